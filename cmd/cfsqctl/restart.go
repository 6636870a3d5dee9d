package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart <job-id>",
	Short: "Reset a done or failed job to pending with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("/v1/jobs/"+args[0]+"/restart", nil, nil); err != nil {
			return err
		}
		fmt.Printf("%s restarted\n", args[0])
		return nil
	},
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clouddfe/cfsq/internal/api"
	"github.com/clouddfe/cfsq/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts per state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st api.StatusResponse
		if err := getJSON("/v1/status", &st); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, s := range domain.States {
			fmt.Fprintf(w, "%s\t%d\n", s, st.Counts[string(s)])
		}
		fmt.Fprintf(w, "running leases\t%d\n", st.Running)
		return w.Flush()
	},
}

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List terminally failed jobs with their last reasons",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st api.StatusResponse
		if err := getJSON("/v1/status", &st); err != nil {
			return err
		}
		if len(st.Failed) == 0 {
			fmt.Println("no failed jobs")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSRCMOD\tATTEMPTS\tLAST ERROR")
		for _, f := range st.Failed {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.ID, f.Srcmod, f.Attempts, f.Reason)
		}
		return w.Flush()
	},
}

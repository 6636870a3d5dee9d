// cfsqctl is the operator CLI for the cfsq scheduler: submit parameter
// sweeps, inspect status, restart finished or failed jobs.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var host string

var rootCmd = &cobra.Command{
	Use:   "cfsqctl",
	Short: "Operator CLI for the cfsq CFS scheduler",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "scheduler API base URL")
	rootCmd.AddCommand(submitCmd, statusCmd, failedCmd, restartCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getJSON(path string, out any) error {
	resp, err := http.Get(host + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := http.Post(host+path, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return httpError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func httpError(resp *http.Response) error {
	var er struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		return fmt.Errorf("%s: %s", er.Error, er.Message)
	}
	return fmt.Errorf("scheduler returned %s", resp.Status)
}

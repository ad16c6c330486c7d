package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Interact with a running supervisor's job submission boundary",
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobCancel,
}

func init() {
	jobCancelCmd.Flags().String("addr", "http://127.0.0.1:8080", "Base URL of a running supervisord instance")
	jobCmd.AddCommand(jobCancelCmd)
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	jobID := args[0]

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/api/v1/jobs/%s/cancel", addr, jobID)
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cancel failed (%s): %s", resp.Status, string(body))
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(string(body))
	return nil
}

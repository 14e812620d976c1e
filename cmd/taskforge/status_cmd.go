package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task counts by status and recent events",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks")
	if err != nil {
		return err
	}
	var taskResult struct {
		Tasks []map[string]interface{} `json:"tasks"`
	}
	if err := json.Unmarshal(resp, &taskResult); err != nil {
		return err
	}

	counts := map[string]int{}
	for _, t := range taskResult.Tasks {
		status, _ := t["status"].(string)
		counts[status]++
	}

	fmt.Println("Tasks by status:")
	for _, status := range []string{"queued", "leased", "running", "blocked", "done", "failed"} {
		if n, ok := counts[status]; ok {
			fmt.Printf("  %-10s %d\n", status, n)
		}
	}

	eventsResp, err := apiGet("/events?limit=10")
	if err != nil {
		return err
	}
	var eventResult struct {
		Events []map[string]interface{} `json:"events"`
	}
	if err := json.Unmarshal(eventsResp, &eventResult); err != nil {
		return err
	}

	fmt.Println("\nRecent events:")
	for _, e := range eventResult.Events {
		fmt.Printf("  [%v] task=%v phase=%v %v\n", e["level"], e["task_id"], e["phase"], e["message"])
	}
	return nil
}

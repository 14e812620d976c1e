package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events:tail",
	Short: "Show the most recent events",
	RunE:  runEventsTail,
}

var (
	eventsLimit  int
	eventsTaskID string
)

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum number of events to show")
	eventsCmd.Flags().StringVar(&eventsTaskID, "task-id", "", "restrict to a single task")
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/events?limit=%d", eventsLimit)
	if eventsTaskID != "" {
		path += "&task_id=" + eventsTaskID
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var result struct {
		Events []map[string]interface{} `json:"events"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	for _, e := range result.Events {
		taskID := ""
		if v, ok := e["task_id"]; ok && v != nil {
			taskID = fmt.Sprint(v)
		}
		fmt.Printf("#%v [%v] task=%s phase=%v %v\n", e["id"], e["level"], taskID, e["phase"], e["message"])
	}
	return nil
}

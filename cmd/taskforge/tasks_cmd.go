package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTasksList,
}

var tasksCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue a new task",
	RunE:  runTasksCreate,
}

var (
	tasksListStatus     string
	tasksCreatePrompt   string
	tasksCreateMode     string
	tasksCreatePriority int
	tasksCreateSuccess  string
	tasksCreateType     string
	tasksCreateTitle    string
)

func init() {
	tasksCmd.AddCommand(tasksListCmd, tasksCreateCmd)

	tasksListCmd.Flags().StringVar(&tasksListStatus, "status", "", "filter by status (queued, leased, running, blocked, done, failed)")

	tasksCreateCmd.Flags().StringVar(&tasksCreatePrompt, "prompt", "", "task prompt (required)")
	tasksCreateCmd.Flags().StringVar(&tasksCreateMode, "mode", "", "declared mode (auto, lean, full)")
	tasksCreateCmd.Flags().IntVar(&tasksCreatePriority, "priority", 0, "priority 1-5, 0 leaves it unset")
	tasksCreateCmd.Flags().StringVar(&tasksCreateSuccess, "success", "", "success criteria")
	tasksCreateCmd.Flags().StringVar(&tasksCreateType, "type", "", "task type")
	tasksCreateCmd.Flags().StringVar(&tasksCreateTitle, "title", "", "task title")
	tasksCreateCmd.MarkFlagRequired("prompt")
}

func runTasksList(cmd *cobra.Command, args []string) error {
	path := "/tasks"
	if tasksListStatus != "" {
		path += "?status=" + tasksListStatus
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}
	var result struct {
		Tasks []map[string]interface{} `json:"tasks"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if len(result.Tasks) == 0 {
		fmt.Println("no tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tTITLE")
	for _, t := range result.Tasks {
		id := truncateID(fmt.Sprint(t["id"]))
		status := fmt.Sprint(t["status"])
		attempts := fmt.Sprint(t["attempt_count"])
		title := truncate(fmt.Sprint(t["title"]), 50)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, status, attempts, title)
	}
	w.Flush()
	return nil
}

func runTasksCreate(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"prompt": tasksCreatePrompt,
	}
	if tasksCreateMode != "" {
		body["mode"] = tasksCreateMode
	}
	if tasksCreatePriority != 0 {
		body["priority"] = tasksCreatePriority
	}
	if tasksCreateSuccess != "" {
		body["success_criteria"] = tasksCreateSuccess
	}
	if tasksCreateType != "" {
		body["type"] = tasksCreateType
	}
	if tasksCreateTitle != "" {
		body["title"] = tasksCreateTitle
	}

	resp, err := apiPost("/tasks/queue", body)
	if err != nil {
		return err
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("queued task %s\n", result.TaskID)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit run state entries",
}

var stateGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a run state value",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateGet,
}

var stateSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a run state value",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateSet,
}

func init() {
	stateCmd.AddCommand(stateGetCmd, stateSetCmd)
}

func runStateGet(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/state/" + args[0])
	if err != nil {
		return err
	}

	var result struct {
		Value     string `json:"value"`
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Println(result.Value)
	fmt.Printf("updated_at: %s\n", result.UpdatedAt)
	return nil
}

func runStateSet(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/state/"+args[0], map[string]string{"value": args[1]})
	if err != nil {
		return err
	}

	var result struct {
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Printf("set %s, updated_at: %s\n", args[0], result.UpdatedAt)
	return nil
}

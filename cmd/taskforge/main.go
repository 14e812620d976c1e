package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "taskforge - durable task orchestrator CLI",
	Long:  `taskforge runs and administers a single-node durable task orchestrator: a Gateway HTTP API, Phase Runner workers, and the CLI to drive both.`,
}

var apiAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7070", "Gateway API address")

	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(dbMigrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(stateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

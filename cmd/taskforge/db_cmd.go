package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/store"
)

var dbMigrateCmd = &cobra.Command{
	Use:   "db:migrate",
	Short: "Apply the taskforge schema to QUEUE_DB_PATH",
	RunE:  runDBMigrate,
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGateway()
	if err != nil {
		return err
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("schema applied at %s\n", cfg.DBPath)
	return nil
}

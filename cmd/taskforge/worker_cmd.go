package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/runner"

	_ "github.com/taskforge/taskforge/internal/provider/claudecli"
	_ "github.com/taskforge/taskforge/internal/provider/codexcli"
)

var (
	workerProvider  string
	streamJobLogs   bool
	workerPromptDir string
	workerRunsDir   string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a Phase Runner worker loop",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerProvider, "provider", "claudecli", "provider adapter name (claudecli, codexcli)")
	workerCmd.Flags().BoolVar(&streamJobLogs, "stream-job-logs", false, "mirror each phase's model events to this process's log output")
	workerCmd.Flags().StringVar(&workerPromptDir, "prompts", "./prompts", "directory containing base phase prompts")
	workerCmd.Flags().StringVar(&workerRunsDir, "runs-dir", "./runs", "root directory for per-attempt run-scoped working directories")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return err
	}

	workerID := "worker-" + uuid.New().String()[:8]
	log.Printf("worker: starting as %s against %s, provider=%s", workerID, cfg.APIBaseURL, workerProvider)

	r, err := runner.New(cfg.APIBaseURL, workerID, workerProvider, workerPromptDir, workerRunsDir,
		cfg.PollInterval, cfg.LeaseTTL, cfg.PhaseTimeout, streamJobLogs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("worker: received signal %v, shutting down...", sig)
		cancel()
	}()

	r.Run(ctx)
	log.Println("worker: stopped")
	return nil
}

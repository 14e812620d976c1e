package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/gateway"
	"github.com/taskforge/taskforge/internal/repository"
	"github.com/taskforge/taskforge/internal/store"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the taskforge Gateway HTTP API",
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGateway()
	if err != nil {
		return err
	}

	log.Printf("gateway: opening store at %s", cfg.DBPath)
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	repo := repository.New(s)

	leaseTTLMS := int(cfg.LeaseTTL / time.Millisecond)
	addr := ":" + strconv.Itoa(cfg.APIPort)
	server := gateway.NewServer(repo, addr, leaseTTLMS, cfg.MaxAttempts)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case sig := <-sigCh:
		log.Printf("gateway: received signal %v, shutting down...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("gateway: server error: %v", err)
			s.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("gateway: shutdown error: %v", err)
	}
	if err := s.Close(); err != nil {
		log.Printf("gateway: db close error: %v", err)
	}
	log.Println("gateway: shutdown complete")
	return nil
}

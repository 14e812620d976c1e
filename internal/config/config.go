// Package config loads taskforge's environment-variable configuration,
// matching the teacher's flag/env default pattern in cmd/neona: every
// value falls back to a documented default, and a present-but-invalid
// numeric value is a startup error rather than a silent fallback.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Gateway is the configuration the gateway process reads at startup.
type Gateway struct {
	DBPath      string
	LeaseTTL    time.Duration
	MaxAttempts int
	APIPort     int
}

// Worker is the configuration the worker process reads at startup.
type Worker struct {
	APIBaseURL    string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	PhaseTimeout  time.Duration
}

// LoadGateway reads QUEUE_* environment variables.
func LoadGateway() (*Gateway, error) {
	leaseTTLMS, err := intEnv("QUEUE_LEASE_TTL_MS", 120_000)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := intEnv("QUEUE_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	port, err := intEnv("QUEUE_API_PORT", 7070)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		DBPath:      stringEnv("QUEUE_DB_PATH", "./data/queue.sqlite"),
		LeaseTTL:    time.Duration(leaseTTLMS) * time.Millisecond,
		MaxAttempts: maxAttempts,
		APIPort:     port,
	}, nil
}

// LoadWorker reads WORKER_* environment variables.
func LoadWorker() (*Worker, error) {
	pollMS, err := intEnv("WORKER_POLL_MS", 2_000)
	if err != nil {
		return nil, err
	}
	leaseTTLMS, err := intEnv("WORKER_LEASE_TTL_MS", 120_000)
	if err != nil {
		return nil, err
	}
	phaseTimeoutMS, err := intEnv("WORKER_PHASE_TIMEOUT_MS", 600_000)
	if err != nil {
		return nil, err
	}

	return &Worker{
		APIBaseURL:   stringEnv("WORKER_API_BASE_URL", "http://localhost:7070"),
		PollInterval: time.Duration(pollMS) * time.Millisecond,
		LeaseTTL:     time.Duration(leaseTTLMS) * time.Millisecond,
		PhaseTimeout: time.Duration(phaseTimeoutMS) * time.Millisecond,
	}, nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be a positive integer, got %d", key, n)
	}
	return n, nil
}

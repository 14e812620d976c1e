package runner

import (
	"context"
	"log"
	"time"

	"github.com/taskforge/taskforge/internal/provider"
)

// Runner is the worker process's outer loop: poll the Gateway for a
// lease, run the phase pipeline, report completion exactly once, and
// repeat, mirroring the teacher's scheduler.Scheduler poll-claim-work
// loop generalized from a single local executor to a remote lease API.
type Runner struct {
	client       *Client
	pipeline     *Pipeline
	workerID     string
	pollInterval time.Duration
	leaseTTL     time.Duration
}

// New builds a Runner. adapterName selects the registered provider
// Adapter (e.g. "claudecli", "codexcli"). runsRoot is the directory
// under which each attempt gets its own run-scoped working directory
// (spec.md:140,302). When streamJobLogs is true, each phase's model
// events are also mirrored to this process's log output, in addition
// to being reported to the Gateway as events.
func New(gatewayBaseURL, workerID, adapterName, promptDir, runsRoot string, pollInterval, leaseTTL, phaseTimeout time.Duration, streamJobLogs bool) (*Runner, error) {
	adapter, err := provider.New(adapterName)
	if err != nil {
		return nil, err
	}

	client := NewClient(gatewayBaseURL)
	pipeline := NewPipeline(client, NewPromptLoader(promptDir), adapter, phaseTimeout, runsRoot, workerID)
	pipeline.streamJobLogs = streamJobLogs

	return &Runner{
		client:       client,
		pipeline:     pipeline,
		workerID:     workerID,
		pollInterval: pollInterval,
		leaseTTL:     leaseTTL,
	}, nil
}

// Run polls the Gateway for leasable tasks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	leaseTTLMS := int(r.leaseTTL / time.Millisecond)

	lease, err := r.client.Lease(r.workerID, leaseTTLMS)
	if err != nil {
		log.Printf("runner: lease poll failed: %v", err)
		return
	}
	if lease == nil || lease.Task == nil {
		return
	}

	r.runAttempt(ctx, lease)
}

// runAttempt runs one leased task's attempt, keeping the lease alive
// with a heartbeat timer at leaseTTL/3 (floor 1s) for the duration,
// and guarantees Complete is called exactly once regardless of outcome.
func (r *Runner) runAttempt(ctx context.Context, lease *LeaseResponse) {
	task := lease.Task
	leaseTTLMS := int(r.leaseTTL / time.Millisecond)

	heartbeatInterval := r.leaseTTL / 3
	if heartbeatInterval < time.Second {
		heartbeatInterval = time.Second
	}

	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopHeartbeat:
				return
			case <-ticker.C:
				if err := r.client.Heartbeat(task.ID, r.workerID, leaseTTLMS); err != nil {
					log.Printf("runner: heartbeat failed for task %s: %v", task.ID, err)
				}
			}
		}
	}()

	declaredMode := task.Mode
	if declaredMode == "" {
		declaredMode = "auto"
	}
	outcome, runErr := r.pipeline.Run(ctx, task, lease.AttemptID, declaredMode)

	close(stopHeartbeat)
	<-heartbeatDone

	if runErr != nil {
		msg := runErr.Error()
		outcome = &Outcome{
			Succeeded:    false,
			FinalPhase:   "execute",
			OutputJSON:   `{"phase_outputs":{}}`,
			ErrorMessage: &msg,
		}
	}

	req := CompleteRequest{
		WorkerID:     r.workerID,
		OutputJSON:   outcome.OutputJSON,
		FinalPhase:   outcome.FinalPhase,
		Succeeded:    outcome.Succeeded,
		Blocked:      outcome.Blocked,
		ErrorMessage: outcome.ErrorMessage,
	}
	if err := r.client.Complete(task.ID, req); err != nil {
		log.Printf("runner: complete failed for task %s: %v", task.ID, err)
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/provider"
)

const (
	runStreamDeadline     = 30 * time.Minute
	runStreamPollInterval = time.Second
	runStreamPollCap      = 100
)

// handleTasksRun implements the run-streaming endpoint of spec.md §4.3.
func (s *Server) handleTasksRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body taskRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.repo.CreateTask(r.Context(), s.createInputFor(body), s.maxAttempts)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, ErrValidation)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	stream := &runStream{
		w:       w,
		flusher: flusher,
		runID:   task.ID,
	}

	stream.writeEnvelope(provider.NewEnvelope(task.ID, provider.EnvelopeEvent, "", provider.ProducerSystem,
		provider.EventPayload{Level: "info", Message: "intake", Data: map[string]any{"task_id": task.ID}}))

	ctx, cancel := context.WithTimeout(r.Context(), runStreamDeadline)
	defer cancel()

	s.pumpRunStream(ctx, stream, task.ID)
}

// runStream tracks one response's local sequence counter, separate from
// any sequence carried by an upstream envelope being replayed.
type runStream struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	runID    string
	sequence int
}

func (s *runStream) writeEnvelope(env provider.Envelope) {
	env.Sequence = s.sequence
	s.sequence++
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.w.Write(data)
	s.w.Write([]byte("\n"))
	s.flusher.Flush()
}

// pumpRunStream polls events for taskID ascending by id, replaying each
// as an envelope, until the task reaches a terminal status or ctx's
// deadline elapses.
func (s *Server) pumpRunStream(ctx context.Context, stream *runStream, taskID string) {
	var afterID int64

	ticker := time.NewTicker(runStreamPollInterval)
	defer ticker.Stop()

	for {
		events, err := s.repo.ListEventsAfter(ctx, taskID, afterID)
		if err == nil {
			if len(events) > runStreamPollCap {
				events = events[:runStreamPollCap]
			}
			for _, ev := range events {
				afterID = ev.ID
				stream.writeEnvelope(envelopeFor(stream.runID, ev))
			}
		}

		task, err := s.repo.GetTask(ctx, taskID)
		if err == nil && task != nil && task.Status.IsTerminal() {
			s.finishRunStream(ctx, stream, taskID, task, afterID)
			return
		}
		if task == nil && err == nil {
			stream.writeEnvelope(provider.NewEnvelope(stream.runID, provider.EnvelopeError, "", provider.ProducerSystem,
				provider.ErrorPayload{Code: "TASK_VANISHED", Message: "task no longer exists"}))
			return
		}

		select {
		case <-ctx.Done():
			stream.writeEnvelope(provider.NewEnvelope(stream.runID, provider.EnvelopeError, "", provider.ProducerSystem,
				provider.ErrorPayload{Code: "RUN_WAIT_TIMEOUT", Message: "run did not complete before the stream deadline"}))
			return
		case <-ticker.C:
		}
	}
}

// envelopeFor builds the envelope a stored event replays as. If the
// event's data already carries an "envelope" field (the Runner recorded
// a full streaming envelope verbatim), replay it with sequence rewritten
// and the original sequence preserved under payload.source_sequence.
// Otherwise synthesize a system event envelope from level/message/data.
func envelopeFor(runID string, ev models.Event) provider.Envelope {
	var raw map[string]any
	if err := json.Unmarshal([]byte(ev.DataJSON), &raw); err == nil {
		if embedded, ok := raw["envelope"].(map[string]any); ok {
			return replayEmbedded(runID, embedded)
		}
	}

	var data any
	if raw != nil {
		data = raw
	}
	return provider.NewEnvelope(runID, provider.EnvelopeEvent, ev.Phase, provider.ProducerSystem,
		provider.EventPayload{Level: string(ev.Level), Message: ev.Message, Data: data})
}

func replayEmbedded(runID string, embedded map[string]any) provider.Envelope {
	payload, _ := embedded["payload"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	if srcSeq, ok := embedded["sequence"]; ok {
		payload["source_sequence"] = srcSeq
	}

	phase, _ := embedded["phase"].(string)
	producer, _ := embedded["producer"].(string)
	envType, _ := embedded["type"].(string)

	env := provider.NewEnvelope(runID, provider.EnvelopeType(envType), phase, provider.Producer(producer), payload)
	if ts, ok := embedded["timestamp"].(string); ok && ts != "" {
		env.Timestamp = ts
	}
	return env
}

// finishRunStream drains any final events, then emits the terminal
// artifact or error envelope, per spec.md §4.3 step 4.
func (s *Server) finishRunStream(ctx context.Context, stream *runStream, taskID string, task *models.Task, afterID int64) {
	if rest, err := s.repo.ListEventsAfter(ctx, taskID, afterID); err == nil {
		for _, ev := range rest {
			stream.writeEnvelope(envelopeFor(stream.runID, ev))
		}
	}

	attempts, err := s.repo.ListAttempts(ctx, taskID)
	if err != nil || len(attempts) == 0 {
		stream.writeEnvelope(provider.NewEnvelope(stream.runID, provider.EnvelopeError, "", provider.ProducerSystem,
			provider.ErrorPayload{Code: "NO_ATTEMPT", Message: "task reached a terminal status with no recorded attempt"}))
		return
	}
	last := attempts[len(attempts)-1]

	if task.Status != models.TaskStatusDone {
		msg := "task did not complete successfully"
		if task.LastError != nil {
			msg = *task.LastError
		}
		stream.writeEnvelope(provider.NewEnvelope(stream.runID, provider.EnvelopeError, last.Phase, provider.ProducerSystem,
			provider.ErrorPayload{Code: "TASK_" + string(task.Status), Message: msg}))
		return
	}

	content := ExtractUserOutput(last.OutputJSON)
	stream.writeEnvelope(provider.NewEnvelope(stream.runID, provider.EnvelopeArtifact, last.Phase, provider.ProducerSystem,
		provider.ArtifactPayload{Name: "result", Format: "json", Content: content}))
}

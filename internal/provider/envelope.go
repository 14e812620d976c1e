package provider

import "github.com/taskforge/taskforge/internal/models"

// EnvelopeType is the wire discriminator for a streaming envelope.
type EnvelopeType string

const (
	EnvelopeStateChange EnvelopeType = "state_change"
	EnvelopeEvent       EnvelopeType = "event"
	EnvelopeAction      EnvelopeType = "action"
	EnvelopeToolResult  EnvelopeType = "tool_result"
	EnvelopeArtifact    EnvelopeType = "artifact"
	EnvelopeError       EnvelopeType = "error"
)

// Producer identifies who emitted an envelope.
type Producer string

const (
	ProducerSystem Producer = "system"
	ProducerModel  Producer = "model"
)

// Envelope is the wire record for one phase event of the execute
// pipeline, per spec.md §4.5. The streaming endpoint forwards these
// verbatim, only rewriting Sequence.
type Envelope struct {
	RunID     string       `json:"run_id"`
	Sequence  int          `json:"sequence"`
	Timestamp string       `json:"timestamp"`
	Type      EnvelopeType `json:"type"`
	Phase     string       `json:"phase"`
	Producer  Producer     `json:"producer"`
	Payload   any          `json:"payload"`
}

// NewEnvelope stamps timestamp from models.NowString and leaves Sequence
// at 0; the caller (Runner or streaming endpoint) assigns it.
func NewEnvelope(runID string, envType EnvelopeType, phase string, producer Producer, payload any) Envelope {
	return Envelope{
		RunID:     runID,
		Sequence:  0,
		Timestamp: models.NowString(),
		Type:      envType,
		Phase:     phase,
		Producer:  producer,
		Payload:   payload,
	}
}

// StateChangePayload is the payload for an EnvelopeStateChange.
type StateChangePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EventPayload is the payload for an EnvelopeEvent emitted by the system
// (as opposed to a model-producer event, which carries a ModelEvent).
type EventPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ActionPayload is the payload for an EnvelopeAction.
type ActionPayload struct {
	ActionID       string `json:"action_id"`
	StepID         string `json:"step_id"`
	Tool           string `json:"tool"`
	Arguments      any    `json:"arguments"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ToolResultPayload is the payload for an EnvelopeToolResult; it must
// carry the same ActionID as the action it answers.
type ToolResultPayload struct {
	ActionID string `json:"action_id"`
	OK       bool   `json:"ok"`
	Result   any    `json:"result,omitempty"`
}

// ArtifactPayload is the payload for an EnvelopeArtifact.
type ArtifactPayload struct {
	Name    string `json:"name"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// ErrorPayload is the payload for an EnvelopeError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

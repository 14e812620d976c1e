// Package provider defines the pluggable interface between the Phase
// Runner and an external LLM provider CLI, generalized from the
// teacher's connectors.Connector (one allow-listed shell command) to one
// structured LLM CLI invocation with a streaming output parser.
package provider

import "fmt"

// ModelEventKind classifies a normalized model-event payload's origin.
type ModelEventKind string

const (
	ModelEventAssistantMessage    ModelEventKind = "assistant_message"
	ModelEventAssistantToolResult ModelEventKind = "assistant_tool_result"
	ModelEventResultSuccess       ModelEventKind = "result_success"
	ModelEventResult              ModelEventKind = "result"
	ModelEventSystem              ModelEventKind = "system"
	ModelEventUser                ModelEventKind = "user"
	ModelEventUnknown             ModelEventKind = "unknown"
)

// ModelEventType is the coarse shape of a normalized model-event payload.
type ModelEventType string

const (
	ModelEventTypeMessage ModelEventType = "message"
	ModelEventTypeToolUse ModelEventType = "tool_use"
	ModelEventTypeResult  ModelEventType = "result"
	ModelEventTypeUnknown ModelEventType = "unknown"
)

// MessagePart is one tagged element of a normalized message array.
type MessagePart struct {
	Type    string `json:"type"` // text | tool_use | tool_result | unknown
	Content string `json:"content"`
}

// ModelEvent is the fixed normalization schema every adapter maps its
// native stream shape onto, so downstream consumers stay provider-agnostic.
type ModelEvent struct {
	Level         string         `json:"level"`
	Kind          ModelEventKind `json:"model_event_kind"`
	Type          ModelEventType `json:"type"`
	Message       []MessagePart  `json:"message,omitempty"`
	Summary       *string        `json:"summary,omitempty"`
	ResultMessage *string        `json:"result_message,omitempty"`
}

// Command is what buildCommand returns: the subprocess invocation.
type Command struct {
	Path  string
	Args  []string
	Stdin string // empty means no stdin is written
}

// OutputLineHandler receives one normalized ModelEvent per observed
// subprocess output line.
type OutputLineHandler func(ModelEvent)

// Adapter is the contract a concrete LLM provider CLI implements.
type Adapter interface {
	// Name identifies the adapter, e.g. "claudecli".
	Name() string

	// BuildCommand returns the subprocess invocation for one phase call.
	// schemaPath, when non-empty, is a JSON schema file path the provider
	// should be instructed to conform its structured output to.
	BuildCommand(phase, prompt string, schemaPath string) (Command, error)

	// HandleOutputLine is invoked for each subprocess output line in
	// arrival order; it reports a normalized event to handle, if any.
	HandleOutputLine(line string, handle OutputLineHandler)

	// IsTerminalStream reports whether this adapter's result is only
	// available at stream end as a distinguished record, rather than
	// derivable from the full captured output text.
	IsTerminalStream() bool

	// GetTerminalResultText returns the terminal result text collected
	// from the stream, or "" if none was seen (only meaningful when
	// IsTerminalStream is true).
	GetTerminalResultText() string
}

// Factory resolves a provider name to a fresh Adapter instance.
type Factory func() Adapter

var registry = map[string]Factory{}

// Register adds a named adapter factory. Called from each concrete
// adapter package's init.
func Register(name string, f Factory) {
	registry[name] = f
}

// New looks up and constructs the adapter registered under name.
func New(name string) (Adapter, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider adapter: %s", name)
	}
	return f(), nil
}

// Names returns every registered adapter name.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

// Package codexcli adapts the "codex" CLI to the provider.Adapter
// contract: an NDJSON event stream on stdout terminating in a
// distinguished {"type":"result", ...} record.
package codexcli

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/taskforge/taskforge/internal/provider"
)

func init() {
	provider.Register("codexcli", func() provider.Adapter { return &Adapter{} })
}

// Adapter drives the codex CLI in its NDJSON streaming mode.
type Adapter struct {
	mu           sync.Mutex
	terminalText string
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "codexcli" }

// BuildCommand implements provider.Adapter.
func (a *Adapter) BuildCommand(phase, prompt string, schemaPath string) (provider.Command, error) {
	args := []string{"exec", "--json"}
	if schemaPath != "" {
		args = append(args, "--output-schema", schemaPath)
	}
	return provider.Command{
		Path:  "codex",
		Args:  args,
		Stdin: prompt,
	}, nil
}

type streamRecord struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Tool    string `json:"tool"`
}

// HandleOutputLine implements provider.Adapter: every line is its own
// JSON record; "result" is the distinguished terminal record this
// adapter waits for.
func (a *Adapter) HandleOutputLine(line string, handle provider.OutputLineHandler) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var rec streamRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		s := line
		handle(provider.ModelEvent{Level: "warn", Kind: provider.ModelEventUnknown, Type: provider.ModelEventTypeUnknown, Summary: &s})
		return
	}

	switch rec.Type {
	case "result":
		a.mu.Lock()
		a.terminalText = rec.Content
		a.mu.Unlock()
		msg := rec.Content
		handle(provider.ModelEvent{
			Level:         "info",
			Kind:          provider.ModelEventResultSuccess,
			Type:          provider.ModelEventTypeResult,
			ResultMessage: &msg,
		})
	case "assistant", "message":
		handle(provider.ModelEvent{
			Level: "info",
			Kind:  provider.ModelEventAssistantMessage,
			Type:  provider.ModelEventTypeMessage,
			Message: []provider.MessagePart{
				{Type: "text", Content: rec.Content},
			},
		})
	case "tool_call":
		handle(provider.ModelEvent{
			Level: "info",
			Kind:  provider.ModelEventAssistantToolResult,
			Type:  provider.ModelEventTypeToolUse,
			Message: []provider.MessagePart{
				{Type: "tool_use", Content: rec.Tool},
			},
		})
	case "system":
		handle(provider.ModelEvent{Level: "info", Kind: provider.ModelEventSystem, Type: provider.ModelEventTypeUnknown})
	case "user":
		handle(provider.ModelEvent{Level: "info", Kind: provider.ModelEventUser, Type: provider.ModelEventTypeUnknown})
	default:
		handle(provider.ModelEvent{Level: "info", Kind: provider.ModelEventUnknown, Type: provider.ModelEventTypeUnknown})
	}
}

// IsTerminalStream implements provider.Adapter: true, codex only reports
// its final structured result in the last "result" record.
func (a *Adapter) IsTerminalStream() bool { return true }

// GetTerminalResultText implements provider.Adapter.
func (a *Adapter) GetTerminalResultText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminalText
}

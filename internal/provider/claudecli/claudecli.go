// Package claudecli adapts the "claude" CLI to the provider.Adapter
// contract: one prompt in, one JSON object out on stdout, no streaming
// terminal record.
package claudecli

import (
	"encoding/json"
	"strings"

	"github.com/taskforge/taskforge/internal/provider"
)

func init() {
	provider.Register("claudecli", func() provider.Adapter { return &Adapter{} })
}

// Adapter drives the claude CLI in non-interactive, single-shot JSON mode.
type Adapter struct{}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "claudecli" }

// BuildCommand implements provider.Adapter. The prompt is passed on
// stdin; --output-format json asks the CLI to emit one JSON object.
func (a *Adapter) BuildCommand(phase, prompt string, schemaPath string) (provider.Command, error) {
	args := []string{"-p", "--output-format", "json"}
	if schemaPath != "" {
		args = append(args, "--json-schema", schemaPath)
	}
	return provider.Command{
		Path:  "claude",
		Args:  args,
		Stdin: prompt,
	}, nil
}

// HandleOutputLine implements provider.Adapter. claudecli does not
// stream a distinguished per-line record; each non-empty line is
// reported as a model event carrying the raw line as its summary, so the
// run log still shows forward progress while the caller waits for the
// final JSON blob. A JSON line with type "assistant" is reported as an
// assistant_message event; every other line as a system event.
func (a *Adapter) HandleOutputLine(line string, handle provider.OutputLineHandler) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	kind := provider.ModelEventSystem
	var summary *string
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err == nil {
		if t, _ := obj["type"].(string); t == "assistant" {
			kind = provider.ModelEventAssistantMessage
		}
		s := line
		summary = &s
	} else {
		s := line
		summary = &s
	}

	handle(provider.ModelEvent{
		Level:   "info",
		Kind:    kind,
		Type:    provider.ModelEventTypeMessage,
		Summary: summary,
	})
}

// IsTerminalStream implements provider.Adapter: false, the full captured
// stdout text is parsed directly by the Runner's output-parsing contract.
func (a *Adapter) IsTerminalStream() bool { return false }

// GetTerminalResultText implements provider.Adapter.
func (a *Adapter) GetTerminalResultText() string { return "" }

package runner

import (
	"fmt"
	"os"
	"path/filepath"
)

// PromptLoader loads the plain-text base prompts for each pipeline
// phase from a known directory on disk; prompt content itself is out
// of scope for this system (spec.md §1) beyond loading it verbatim.
type PromptLoader struct {
	dir string
}

// NewPromptLoader builds a loader rooted at dir (e.g. ./prompts).
func NewPromptLoader(dir string) *PromptLoader {
	return &PromptLoader{dir: dir}
}

// phaseFiles maps a phase name to its base prompt filename.
var phaseFiles = map[string]string{
	"classifier": "classifier.txt",
	"interpret":  "interpret.txt",
	"plan":       "plan.txt",
	"policy":     "policy.txt",
	"execute":    "execute.txt",
	"verify":     "verify.txt",
	"report":     "report.txt",
}

// Load returns the base prompt text for phase, verbatim.
func (l *PromptLoader) Load(phase string) (string, error) {
	name, ok := phaseFiles[phase]
	if !ok {
		return "", fmt.Errorf("no base prompt configured for phase %q", phase)
	}
	data, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		return "", fmt.Errorf("load %s prompt: %w", phase, err)
	}
	return string(data), nil
}

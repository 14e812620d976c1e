package gateway

import "strings"

var validModes = map[string]bool{"auto": true, "lean": true, "full": true}

// taskRequestBody is the JSON shape accepted by /tasks/queue and /tasks/run.
type taskRequestBody struct {
	Prompt          string         `json:"prompt"`
	SuccessCriteria *string        `json:"success_criteria"`
	Type            string         `json:"type"`
	Title           string         `json:"title"`
	Priority        *int           `json:"priority"`
	Metadata        map[string]any `json:"metadata"`
	Mode            *string        `json:"mode"`
}

// validate enforces spec.md §4.3's task-creation rules.
func (b *taskRequestBody) validate() error {
	if strings.TrimSpace(b.Prompt) == "" {
		return validationError("prompt is required")
	}
	if b.SuccessCriteria != nil && strings.TrimSpace(*b.SuccessCriteria) == "" {
		return validationError("success_criteria, if present, must be non-empty")
	}
	if b.Priority != nil && (*b.Priority < 1 || *b.Priority > 5) {
		return validationError("priority must be in [1..5]")
	}
	if b.Mode != nil && !validModes[*b.Mode] {
		return validationError("mode must be one of auto, lean, full")
	}
	return nil
}

func (b *taskRequestBody) mode() string {
	if b.Mode == nil {
		return "auto"
	}
	return *b.Mode
}

func (b *taskRequestBody) priority() int {
	if b.Priority == nil {
		return 0
	}
	return *b.Priority
}

// workerEnvelope is the common shape of lease/heartbeat/complete/event bodies.
type workerEnvelope struct {
	WorkerID   string `json:"worker_id"`
	LeaseTTLMS *int   `json:"lease_ttl_ms"`
}

func (w *workerEnvelope) validate() error {
	if strings.TrimSpace(w.WorkerID) == "" {
		return validationError("worker_id is required")
	}
	if w.LeaseTTLMS != nil && *w.LeaseTTLMS <= 0 {
		return validationError("lease_ttl_ms must be a positive integer")
	}
	return nil
}

func (w *workerEnvelope) leaseTTLSeconds(defaultMS int) int {
	ms := defaultMS
	if w.LeaseTTLMS != nil {
		ms = *w.LeaseTTLMS
	}
	return ms / 1000
}

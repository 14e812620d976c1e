package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout bounds every Gateway call the worker makes,
// matching the teacher's cmd/neona apiClient timeout pattern.
const DefaultClientTimeout = 30 * time.Second

// Client is the worker-side HTTP client for the Gateway's internal
// lease/heartbeat/complete/event-ingest routes.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client pointed at baseURL (e.g. http://localhost:7070).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultClientTimeout},
	}
}

func (c *Client) post(path string, body any) ([]byte, int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return out, resp.StatusCode, nil
}

// LeaseResponse is the body of a successful POST /tasks/lease.
type LeaseResponse struct {
	Task      *TaskView `json:"task"`
	AttemptNo int       `json:"attempt_no"`
	AttemptID int64     `json:"attempt_id"`
}

// TaskView is the subset of task fields the worker needs.
type TaskView struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Title           string  `json:"title"`
	Prompt          string  `json:"prompt"`
	SuccessCriteria *string `json:"success_criteria"`
	TaskRequest     string  `json:"task_request"`
	Mode            string  `json:"mode"`
	AttemptCount    int     `json:"attempt_count"`
	MaxAttempts     int     `json:"max_attempts"`
}

// Lease calls POST /tasks/lease.
func (c *Client) Lease(workerID string, leaseTTLMS int) (*LeaseResponse, error) {
	body, status, err := c.post("/tasks/lease", map[string]any{
		"worker_id":    workerID,
		"lease_ttl_ms": leaseTTLMS,
	})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("lease failed (%d): %s", status, body)
	}
	var out LeaseResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode lease response: %w", err)
	}
	return &out, nil
}

// Heartbeat calls POST /tasks/:id/heartbeat. Errors are logged by the
// caller, never treated as fatal, per spec.md §4.2.
func (c *Client) Heartbeat(taskID, workerID string, leaseTTLMS int) error {
	_, status, err := c.post("/tasks/"+taskID+"/heartbeat", map[string]any{
		"worker_id":    workerID,
		"lease_ttl_ms": leaseTTLMS,
	})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("heartbeat failed (%d)", status)
	}
	return nil
}

// CompleteRequest is the body of POST /tasks/:id/complete.
type CompleteRequest struct {
	WorkerID       string `json:"worker_id"`
	WorkerExitCode *int   `json:"worker_exit_code,omitempty"`
	OutputJSON     string `json:"output_json"`
	FinalPhase     string `json:"final_phase"`
	Succeeded      bool   `json:"succeeded"`
	Blocked        bool   `json:"blocked"`
	ErrorMessage   *string `json:"error_message,omitempty"`
}

// Complete calls POST /tasks/:id/complete.
func (c *Client) Complete(taskID string, req CompleteRequest) error {
	_, status, err := c.post("/tasks/"+taskID+"/complete", req)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("complete failed (%d)", status)
	}
	return nil
}

// GetState calls GET /state/:key. ok is false on a 404 (no such key).
func (c *Client) GetState(key string) (value string, ok bool, err error) {
	resp, err := c.http.Get(c.baseURL + "/state/" + key)
	if err != nil {
		return "", false, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode >= 400 {
		return "", false, fmt.Errorf("get state failed (%d): %s", resp.StatusCode, body)
	}

	var out struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", false, fmt.Errorf("decode state response: %w", err)
	}
	return out.Value, true, nil
}

// SetState calls POST /state/:key.
func (c *Client) SetState(key, value string) error {
	_, status, err := c.post("/state/"+key, map[string]any{"value": value})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("set state failed (%d)", status)
	}
	return nil
}

// AppendEvent calls POST /tasks/:id/events.
func (c *Client) AppendEvent(taskID, workerID string, attemptID *int64, phase, level, message string, data any) error {
	_, status, err := c.post("/tasks/"+taskID+"/events", map[string]any{
		"worker_id":  workerID,
		"attempt_id": attemptID,
		"phase":      phase,
		"level":      level,
		"message":    message,
		"data":       data,
	})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("append event failed (%d)", status)
	}
	return nil
}

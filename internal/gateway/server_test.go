package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/taskforge/taskforge/internal/repository"
	"github.com/taskforge/taskforge/internal/store"
)

func newTestServer(t *testing.T) (*Server, *repository.Repository) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	repo := repository.New(s)
	return NewServer(repo, ":0", 120000, 3), repo
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func (s *Server) testMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/queue", s.handleTasksQueue)
	mux.HandleFunc("/tasks/lease", s.handleTasksLease)
	mux.HandleFunc("/tasks/", s.handleTaskByID)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/state/", s.handleState)
	return mux
}

func TestHealthOK(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.testMux(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestQueueRejectsEmptyPrompt(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.testMux(), http.MethodPost, "/tasks/queue", map[string]any{"prompt": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueueRejectsBadPriority(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.testMux(), http.MethodPost, "/tasks/queue", map[string]any{"prompt": "hi", "priority": 9})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueueLeaseCompleteFlow(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.testMux()

	rec := doJSON(t, mux, http.MethodPost, "/tasks/queue", map[string]any{"prompt": "say hi", "mode": "lean"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = doJSON(t, mux, http.MethodPost, "/tasks/lease", map[string]any{"worker_id": "w1", "lease_ttl_ms": 60000})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var leaseResp struct {
		Task *struct {
			ID string `json:"id"`
		} `json:"task"`
		AttemptNo int   `json:"attempt_no"`
		AttemptID int64 `json:"attempt_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &leaseResp); err != nil {
		t.Fatalf("decode lease response: %v", err)
	}
	if leaseResp.Task == nil || leaseResp.Task.ID != created.TaskID {
		t.Fatalf("expected to lease the created task, got %+v", leaseResp.Task)
	}
	if leaseResp.AttemptNo != 1 {
		t.Errorf("expected attempt_no=1, got %d", leaseResp.AttemptNo)
	}

	rec = doJSON(t, mux, http.MethodPost, "/tasks/"+created.TaskID+"/complete", map[string]any{
		"worker_id":   "w1",
		"output_json": `{"phase_outputs":{}}`,
		"final_phase": "report",
		"succeeded":   true,
		"blocked":     false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/tasks/"+created.TaskID, nil)
	var task struct {
		Status       string `json:"status"`
		AttemptCount int    `json:"attempt_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Status != "done" {
		t.Errorf("expected status=done, got %s", task.Status)
	}
	if task.AttemptCount != 1 {
		t.Errorf("expected attempt_count=1, got %d", task.AttemptCount)
	}
}

func TestStateRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.testMux()

	rec := doJSON(t, mux, http.MethodGet, "/state/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing key, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/state/foo", map[string]any{"value": "bar"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/state/foo", nil)
	var got struct {
		Value     string `json:"value"`
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if got.Value != "bar" {
		t.Errorf("expected value=bar, got %q", got.Value)
	}
	if got.UpdatedAt == "" {
		t.Errorf("expected a non-empty updated_at")
	}
}

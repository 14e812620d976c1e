package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return validationError("malformed JSON body: " + err.Error())
	}
	return nil
}

// handleTasksQueue handles POST /tasks/queue: create a task and return
// its id immediately, with no pipeline execution.
func (s *Server) handleTasksQueue(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": task.ID})
}

func (s *Server) createInputFor(body taskRequestBody) repository.CreateTaskInput {
	taskRequest, _ := json.Marshal(map[string]any{"mode": body.mode(), "metadata": body.Metadata})
	return repository.CreateTaskInput{
		Type:            body.Type,
		Title:           body.Title,
		Prompt:          body.Prompt,
		SuccessCriteria: body.SuccessCriteria,
		TaskRequest:     string(taskRequest),
		Priority:        body.priority(),
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	tasks, err := s.repo.ListTasks(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.repo.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		writeError(w, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getTaskAttempts(w http.ResponseWriter, r *http.Request, taskID string) {
	attempts, err := s.repo.ListAttempts(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if attempts == nil {
		attempts = []models.TaskAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *Server) getTaskEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	limit := parseLimit(r, 50)
	events, err := s.repo.ListEvents(r.Context(), limit, &taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseLimit(r, 50)
	var taskID *string
	if v := r.URL.Query().Get("task_id"); v != "" {
		taskID = &v
	}
	events, err := s.repo.ListEvents(r.Context(), limit, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleTasksLease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body workerEnvelope
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, err)
		return
	}

	leaseTTLSeconds := body.leaseTTLSeconds(s.leaseTTLMS)
	task, err := s.repo.ClaimNextTask(r.Context(), body.WorkerID, leaseTTLSeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		writeJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}

	started, err := s.repo.StartAttempt(r.Context(), task.ID, body.WorkerID, leaseTTLSeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	if started == nil {
		// Another worker won the race between claim and start; report no task
		// this poll rather than surfacing an internal inconsistency.
		writeJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}

	task.AttemptCount = started.AttemptNo - 1
	writeJSON(w, http.StatusOK, map[string]any{
		"task":       leaseTaskView{Task: task, Mode: repository.DeclaredMode(task)},
		"attempt_no": started.AttemptNo,
		"attempt_id": started.AttemptID,
	})
}

// leaseTaskView adds the task's declared mode (normally buried in the
// opaque task_request payload) as a plain field, so a worker decoding
// the lease response doesn't need to parse task_request itself.
type leaseTaskView struct {
	*models.Task
	Mode string `json:"mode"`
}

func (s *Server) postHeartbeat(w http.ResponseWriter, r *http.Request, taskID string) {
	var body struct {
		WorkerID   string `json:"worker_id"`
		LeaseTTLMS *int   `json:"lease_ttl_ms"`
		Phase      string `json:"phase"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	env := workerEnvelope{WorkerID: body.WorkerID, LeaseTTLMS: body.LeaseTTLMS}
	if err := env.validate(); err != nil {
		writeError(w, err)
		return
	}

	err := s.repo.Heartbeat(r.Context(), taskID, body.WorkerID, body.Phase, env.leaseTTLSeconds(s.leaseTTLMS))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request, taskID string) {
	var body struct {
		WorkerID  string `json:"worker_id"`
		AttemptID *int64 `json:"attempt_id"`
		Phase     string `json:"phase"`
		Level     string `json:"level"`
		Message   string `json:"message"`
		Data      any    `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.WorkerID == "" {
		writeError(w, validationError("worker_id is required"))
		return
	}

	level := models.EventLevel(body.Level)
	if level == "" {
		level = models.EventLevelInfo
	}
	if _, err := s.repo.AppendEvent(r.Context(), &taskID, body.AttemptID, body.Phase, level, body.Message, body.Data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postComplete(w http.ResponseWriter, r *http.Request, taskID string) {
	var body struct {
		WorkerID       string  `json:"worker_id"`
		WorkerExitCode *int    `json:"worker_exit_code"`
		OutputJSON     string  `json:"output_json"`
		FinalPhase     string  `json:"final_phase"`
		Succeeded      bool    `json:"succeeded"`
		Blocked        bool    `json:"blocked"`
		ErrorMessage   *string `json:"error_message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.WorkerID == "" {
		writeError(w, validationError("worker_id is required"))
		return
	}

	attempt, err := s.repo.GetRunningAttempt(r.Context(), taskID, body.WorkerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if attempt == nil {
		// Stale lease: the prior owner's lease was already reclaimed by
		// recoverExpiredLeases. A no-op per spec.md §7, not an error.
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "stale"})
		return
	}

	result := repository.AttemptResult{
		AttemptNo:  attempt.AttemptNo,
		Succeeded:  body.Succeeded,
		Blocked:    body.Blocked,
		ErrorMsg:   body.ErrorMessage,
		OutputJSON: body.OutputJSON,
		Phase:      body.FinalPhase,
	}
	if err := s.repo.CompleteAttempt(r.Context(), taskID, body.WorkerID, attempt.ID, result); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.repo.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := ""
	if task != nil {
		status = string(task.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": status})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request, key string) {
	value, updatedAt, ok, err := s.repo.GetState(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value, "updated_at": updatedAt})
}

func (s *Server) postState(w http.ResponseWriter, r *http.Request, key string) {
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	updatedAt, err := s.repo.SetState(r.Context(), key, body.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key, "value": body.Value, "updated_at": updatedAt})
}

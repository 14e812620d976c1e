// Package repository implements the domain lifecycle contract of
// spec.md §4.2 over internal/store: task creation, claim/lease/attempt
// transitions, event append/list, and run-state get/set. Every exported
// method runs as a single store transaction; callers must not compose
// multiple Repository calls into what they treat as one atomic operation.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/store"
)

// Repository is the domain API over the Store.
type Repository struct {
	store *store.Store
}

// New creates a Repository backed by s.
func New(s *store.Store) *Repository {
	return &Repository{store: s}
}

// querier is the subset of *sql.DB/*sql.Tx that the repository's helper
// functions need, so fetch/scan/append helpers work the same whether
// they run inside a transaction or against the bare DB.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateTaskInput carries the fields the Gateway collects from a request.
type CreateTaskInput struct {
	Type            string
	Title           string
	Prompt          string
	SuccessCriteria *string
	TaskRequest     string // opaque JSON, e.g. `{"mode":"auto"}`
	Priority        int
	MaxAttempts     int // 0 means "use defaultMaxAttempts"
}

// CreateTask assigns an id, stamps created_at/updated_at, clamps priority
// to [1..5], defaults an empty title to "Untitled task", and appends a
// task_created event, all in one transaction.
func (r *Repository) CreateTask(ctx context.Context, input CreateTaskInput, defaultMaxAttempts int) (*models.Task, error) {
	if input.Type == "" {
		input.Type = "generic"
	}
	if input.Title == "" {
		input.Title = "Untitled task"
	}
	if input.TaskRequest == "" {
		input.TaskRequest = `{"mode":"auto"}`
	}
	priority := clampPriority(input.Priority)
	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}

	id := newID()
	now := models.NowString()

	task := &models.Task{
		ID:              id,
		Type:            input.Type,
		Title:           input.Title,
		Prompt:          input.Prompt,
		SuccessCriteria: input.SuccessCriteria,
		TaskRequest:     input.TaskRequest,
		Priority:        priority,
		AttemptCount:    0,
		MaxAttempts:     maxAttempts,
		Status:          models.TaskStatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, type, title, prompt, success_criteria, task_request, priority,
				attempt_count, max_attempts, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.Type, task.Title, task.Prompt, task.SuccessCriteria, task.TaskRequest,
			task.Priority, task.AttemptCount, task.MaxAttempts, task.Status, task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		_, err = appendEventTx(ctx, tx, &task.ID, nil, "", models.EventLevelInfo, "task_created", map[string]any{
			"type":     task.Type,
			"title":    task.Title,
			"priority": task.Priority,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask retrieves a task by id, or (nil, nil) if it does not exist.
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return fetchTask(ctx, r.store.DB(), id)
}

// ListTasks returns tasks ordered by (priority asc, created_at asc),
// optionally filtered by status.
func (r *Repository) ListTasks(ctx context.Context, filterStatus string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}
	if filterStatus != "" {
		query += ` WHERE status = ?`
		args = append(args, filterStatus)
	}
	query += ` ORDER BY priority ASC, created_at ASC, id ASC`

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// clampPriority treats an absent priority (0, the zero value from an
// omitted JSON field) as "use the default", and clamps anything else to
// the valid [1..5] range.
func clampPriority(p int) int {
	if p == 0 {
		return 3
	}
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

// DeclaredMode extracts the "mode" field from a task's opaque
// task_request JSON, defaulting to "auto" when absent or unparseable.
func DeclaredMode(task *models.Task) string {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal([]byte(task.TaskRequest), &payload); err != nil || payload.Mode == "" {
		return string(models.ModeAuto)
	}
	return payload.Mode
}

// newID returns an opaque random 128-bit id rendered as a hex string,
// matching the spec's "opaque random 128-bit id" requirement without
// committing to uuid's dashed textual form as part of the wire contract.
func newID() string {
	return genUUID()
}

func marshalData(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

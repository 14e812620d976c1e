package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskforge/taskforge/internal/models"
)

// AppendEvent appends a single event outside of any lifecycle transition,
// e.g. a phase-level note the runner wants recorded independently of a
// status change.
func (r *Repository) AppendEvent(ctx context.Context, taskID *string, attemptID *int64, phase string, level models.EventLevel, message string, data any) (int64, error) {
	var id int64
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = appendEventTx(ctx, tx, taskID, attemptID, phase, level, message, data)
		return err
	})
	return id, err
}

// ListEvents returns events newest-first by created_at, optionally scoped
// to one task, bounded to limit entries. A limit below 1 falls back to
// 50; a limit above 500 is capped at 500.
func (r *Repository) ListEvents(ctx context.Context, limit int, taskID *string) ([]models.Event, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT id, task_id, attempt_id, phase, level, message, data_json, created_at FROM events`
	var args []interface{}
	if taskID != nil {
		query += ` WHERE task_id = ?`
		args = append(args, *taskID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// ListEventsAfter returns a task's events in ascending id order (the
// canonical chronological order per spec.md §3) with id greater than
// afterID, for the run-streaming endpoint's forward-only poll cursor.
func (r *Repository) ListEventsAfter(ctx context.Context, taskID string, afterID int64) ([]models.Event, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, task_id, attempt_id, phase, level, message, data_json, created_at
		 FROM events WHERE task_id = ? AND id > ? ORDER BY id ASC`,
		taskID, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events after %d: %w", afterID, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (*models.Event, error) {
	var e models.Event
	var taskID sql.NullString
	var attemptID sql.NullInt64

	if err := rows.Scan(&e.ID, &taskID, &attemptID, &e.Phase, &e.Level, &e.Message, &e.DataJSON, &e.CreatedAt); err != nil {
		return nil, err
	}
	if taskID.Valid {
		e.TaskID = &taskID.String
	}
	if attemptID.Valid {
		e.AttemptID = &attemptID.Int64
	}
	return &e, nil
}

package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskforge/taskforge/internal/models"
)

func genUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

const taskColumns = `id, type, title, prompt, success_criteria, task_request, priority,
	attempt_count, max_attempts, status, lease_owner, lease_expires_at, last_error,
	created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var successCriteria, leaseOwner, leaseExpiresAt, lastError sql.NullString

	err := row.Scan(
		&t.ID, &t.Type, &t.Title, &t.Prompt, &successCriteria, &t.TaskRequest, &t.Priority,
		&t.AttemptCount, &t.MaxAttempts, &t.Status, &leaseOwner, &leaseExpiresAt, &lastError,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if successCriteria.Valid {
		t.SuccessCriteria = &successCriteria.String
	}
	if leaseOwner.Valid {
		t.LeaseOwner = &leaseOwner.String
	}
	if leaseExpiresAt.Valid {
		t.LeaseExpiresAt = &leaseExpiresAt.String
	}
	if lastError.Valid {
		t.LastError = &lastError.String
	}
	return &t, nil
}

// fetchTask retrieves a task by id using q, which may be the bare DB or a
// transaction, returning (nil, nil) when no row matches.
func fetchTask(ctx context.Context, q querier, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// mustParse parses a timestamp this package itself just produced with
// models.NowString; a failure here means TimeLayout and NowString have
// drifted apart, a programming error rather than a runtime condition to
// recover from.
func mustParse(s string) time.Time {
	t, err := models.ParseTime(s)
	if err != nil {
		panic("repository: invalid timestamp " + s + ": " + err.Error())
	}
	return t
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// appendEventTx inserts an event row and returns its id.
func appendEventTx(ctx context.Context, tx *sql.Tx, taskID *string, attemptID *int64, phase string, level models.EventLevel, message string, data any) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (task_id, attempt_id, phase, level, message, data_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		taskID, attemptID, phase, level, message, marshalData(data), models.NowString(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

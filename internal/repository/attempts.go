package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskforge/taskforge/internal/models"
)

func scanAttempt(row rowScanner) (*models.TaskAttempt, error) {
	var a models.TaskAttempt
	var finishedAt sql.NullString

	err := row.Scan(
		&a.ID, &a.TaskID, &a.AttemptNo, &a.Status, &a.LeaseOwner, &a.LeaseExpiresAt, &a.Phase,
		&a.OutputJSON, &a.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		a.FinishedAt = &finishedAt.String
	}
	return &a, nil
}

// ListAttempts returns every attempt row for taskID, oldest first.
func (r *Repository) ListAttempts(ctx context.Context, taskID string) ([]models.TaskAttempt, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, task_id, attempt_no, status, lease_owner, lease_expires_at, phase, output_json, started_at, finished_at
		 FROM attempts WHERE task_id = ? ORDER BY attempt_no ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.TaskAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

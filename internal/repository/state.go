package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskforge/taskforge/internal/models"
)

// GetState returns the opaque JSON value stored under key and its
// last-write timestamp, or ("", "", false) if no such key exists.
func (r *Repository) GetState(ctx context.Context, key string) (value, updatedAt string, ok bool, err error) {
	err = r.store.DB().QueryRowContext(ctx, `SELECT value, updated_at FROM run_state WHERE key = ?`, key).Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, updatedAt, true, nil
}

// SetState upserts key's value, stamping and returning updated_at,
// matching the idempotency-marker contract of spec.md §4.4: the Runner
// stores its idempotency markers here under "idempotency:<hash>".
func (r *Repository) SetState(ctx context.Context, key, value string) (updatedAt string, err error) {
	now := models.NowString()
	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO run_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	if err != nil {
		return "", fmt.Errorf("set state %s: %w", key, err)
	}
	return now, nil
}

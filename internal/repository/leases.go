package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskforge/taskforge/internal/models"
)

const leaseExpiredError = "Lease expired before completion"

// RecoverExpiredLeases advances attempt_count for every task with status
// in {leased, running} whose lease has expired, failing the task outright
// once the new count reaches max_attempts and requeuing it otherwise. It
// returns the number of tasks recovered.
func (r *Repository) RecoverExpiredLeases(ctx context.Context, now string) (int, error) {
	var n int
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = recoverExpiredLeasesTx(ctx, tx, now)
		return err
	})
	return n, err
}

func recoverExpiredLeasesTx(ctx context.Context, tx *sql.Tx, now string) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, attempt_count, max_attempts FROM tasks
		 WHERE status IN ('leased', 'running') AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("scan expired leases: %w", err)
	}
	type expired struct {
		id           string
		attemptCount int
		maxAttempts  int
	}
	var tasks []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.attemptCount, &e.maxAttempts); err != nil {
			rows.Close()
			return 0, err
		}
		tasks = append(tasks, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	errMsg := leaseExpiredError
	for _, t := range tasks {
		newCount := t.attemptCount + 1
		newStatus := models.TaskStatusQueued
		if newCount >= t.maxAttempts {
			newStatus = models.TaskStatusFailed
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, attempt_count = ?, lease_owner = NULL, lease_expires_at = NULL,
			 last_error = ?, updated_at = ? WHERE id = ?`,
			newStatus, newCount, errMsg, now, t.id,
		); err != nil {
			return 0, fmt.Errorf("reclaim task %s: %w", t.id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE attempts SET status = 'failed', finished_at = ? WHERE task_id = ? AND status = 'running'`,
			now, t.id,
		); err != nil {
			return 0, fmt.Errorf("fail running attempt for task %s: %w", t.id, err)
		}

		if _, err := appendEventTx(ctx, tx, &t.id, nil, "", models.EventLevelWarn, "lease_expired", nil); err != nil {
			return 0, err
		}
	}
	return len(tasks), nil
}

// ClaimNextTask first reclaims any expired leases, then, inside the same
// transaction, picks the single queued task minimizing (priority,
// created_at, id) and conditionally claims it for owner. It returns
// (nil, nil) when no task is available, or the claim lost a race.
func (r *Repository) ClaimNextTask(ctx context.Context, owner string, leaseTTLSeconds int) (*models.Task, error) {
	var claimed *models.Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := models.NowString()
		if _, err := recoverExpiredLeasesTx(ctx, tx, now); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx,
			`SELECT id FROM tasks WHERE status = 'queued' ORDER BY priority ASC, created_at ASC, id ASC LIMIT 1`,
		)
		var id string
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("scan claim candidate: %w", err)
		}

		leaseExpiresAt := models.FormatTime(mustParse(now).Add(secondsToDuration(leaseTTLSeconds)))

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'leased', lease_owner = ?, lease_expires_at = ?, updated_at = ?
			 WHERE id = ? AND status = 'queued'`,
			owner, leaseExpiresAt, now, id,
		)
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Lost the race to another claimant between the SELECT and the
			// UPDATE; the caller's next poll will try again.
			return nil
		}

		task, err := fetchTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("claimed task %s vanished mid-transaction", id)
		}

		if _, err := appendEventTx(ctx, tx, &id, nil, "", models.EventLevelInfo, "task_claimed", map[string]any{
			"owner": owner,
		}); err != nil {
			return err
		}

		claimed = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// StartedAttempt is the result of a successful StartAttempt call.
type StartedAttempt struct {
	AttemptNo      int
	AttemptID      int64
	LeaseExpiresAt string
}

// StartAttempt succeeds only if the task is leased and owned by owner. It
// flips status to running and inserts a new attempt row with
// attempt_no = task.attempt_count + 1; attempt_count itself only advances
// on completion. Returns (nil, nil) on a lease mismatch.
func (r *Repository) StartAttempt(ctx context.Context, taskID, owner string, leaseTTLSeconds int) (*StartedAttempt, error) {
	var started *StartedAttempt
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		task, err := fetchTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task == nil || task.LeaseOwner == nil || *task.LeaseOwner != owner || task.Status != models.TaskStatusLeased {
			return nil
		}

		now := models.NowString()
		leaseExpiresAt := models.FormatTime(mustParse(now).Add(secondsToDuration(leaseTTLSeconds)))
		attemptNo := task.AttemptCount + 1

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = 'running', lease_expires_at = ?, updated_at = ?
			 WHERE id = ? AND lease_owner = ? AND status = 'leased'`,
			leaseExpiresAt, now, taskID, owner,
		)
		if err != nil {
			return fmt.Errorf("start attempt: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx,
			`INSERT INTO attempts (task_id, attempt_no, status, lease_owner, lease_expires_at, phase, started_at)
			 VALUES (?, ?, 'running', ?, ?, '', ?)`,
			taskID, attemptNo, owner, leaseExpiresAt, now,
		)
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		attemptID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		if _, err := appendEventTx(ctx, tx, &taskID, &attemptID, "", models.EventLevelInfo, "attempt_started", map[string]any{
			"attempt_no": attemptNo,
		}); err != nil {
			return err
		}

		started = &StartedAttempt{AttemptNo: attemptNo, AttemptID: attemptID, LeaseExpiresAt: leaseExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// Heartbeat extends a task's lease and, if it has a running attempt,
// extends that attempt's lease and records its current phase. A
// mismatched owner or a task in neither leased nor running status is a
// no-op; the worker treats heartbeats as cooperative, never fatal.
func (r *Repository) Heartbeat(ctx context.Context, taskID, owner string, phase string, leaseTTLSeconds int) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := models.NowString()
		leaseExpiresAt := models.FormatTime(mustParse(now).Add(secondsToDuration(leaseTTLSeconds)))

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET lease_expires_at = ?, updated_at = ?
			 WHERE id = ? AND lease_owner = ? AND status IN ('leased', 'running')`,
			leaseExpiresAt, now, taskID, owner,
		)
		if err != nil {
			return fmt.Errorf("heartbeat task: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE attempts SET lease_expires_at = ?, phase = ?
			 WHERE task_id = ? AND lease_owner = ? AND status = 'running'`,
			leaseExpiresAt, phase, taskID, owner,
		); err != nil {
			return fmt.Errorf("heartbeat attempt: %w", err)
		}
		return nil
	})
}

// AttemptResult carries a runner's outcome for CompleteAttempt.
type AttemptResult struct {
	AttemptNo  int
	Succeeded  bool
	Blocked    bool
	ErrorMsg   *string
	OutputJSON string
	Phase      string
}

// CompleteAttempt finalizes an attempt as done, failed, or blocked, writes
// its output_json and phase, advances the task's attempt_count to
// result.AttemptNo, clears its lease, and transitions its status:
// blocked is always terminal; succeeded goes to done; otherwise the task
// requeues if result.AttemptNo < max_attempts, else fails outright.
func (r *Repository) CompleteAttempt(ctx context.Context, taskID, owner string, attemptID int64, result AttemptResult) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		task, err := fetchTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task == nil || task.LeaseOwner == nil || *task.LeaseOwner != owner {
			return nil
		}

		now := models.NowString()
		var attemptStatus models.AttemptStatus
		var newStatus models.TaskStatus
		var eventName string

		switch {
		case result.Blocked:
			attemptStatus = models.AttemptStatusBlocked
			newStatus = models.TaskStatusBlocked
			eventName = "task_blocked"
		case result.Succeeded:
			attemptStatus = models.AttemptStatusDone
			newStatus = models.TaskStatusDone
			eventName = "task_completed"
		default:
			attemptStatus = models.AttemptStatusFailed
			if result.AttemptNo < task.MaxAttempts {
				newStatus = models.TaskStatusQueued
				eventName = "attempt_failed"
			} else {
				newStatus = models.TaskStatusFailed
				eventName = "task_failed"
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE attempts SET status = ?, phase = ?, output_json = ?, finished_at = ? WHERE id = ? AND task_id = ?`,
			attemptStatus, result.Phase, result.OutputJSON, now, attemptID, taskID,
		); err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, attempt_count = ?, lease_owner = NULL, lease_expires_at = NULL,
			 last_error = ?, updated_at = ? WHERE id = ?`,
			newStatus, result.AttemptNo, result.ErrorMsg, now, taskID,
		); err != nil {
			return fmt.Errorf("update task after attempt: %w", err)
		}

		if _, err := appendEventTx(ctx, tx, &taskID, &attemptID, "", levelForAttemptStatus(attemptStatus), eventName, nil); err != nil {
			return err
		}
		return nil
	})
}

// GetRunningAttempt finds the attempt currently running for taskID under
// owner, so a caller that only knows (task, worker) — as the Gateway's
// /tasks/:id/complete body does — can resolve the attempt id CompleteAttempt
// needs. Returns (nil, nil) if there is none.
func (r *Repository) GetRunningAttempt(ctx context.Context, taskID, owner string) (*models.TaskAttempt, error) {
	row := r.store.DB().QueryRowContext(ctx,
		`SELECT id, task_id, attempt_no, status, lease_owner, lease_expires_at, phase, output_json, started_at, finished_at
		 FROM attempts WHERE task_id = ? AND lease_owner = ? AND status = 'running'
		 ORDER BY attempt_no DESC LIMIT 1`,
		taskID, owner,
	)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func levelForAttemptStatus(status models.AttemptStatus) models.EventLevel {
	switch status {
	case models.AttemptStatusDone:
		return models.EventLevelInfo
	case models.AttemptStatusBlocked:
		return models.EventLevelWarn
	default:
		return models.EventLevelError
	}
}

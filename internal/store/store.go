// Package store provides the embedded SQLite-backed storage engine for
// taskforge: schema ownership and transactional primitives. Domain
// lifecycle rules live one layer up, in internal/repository.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store owns the taskforge schema and the single underlying *sql.DB.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the SQLite database at dbPath, enables
// WAL journaling, foreign-key enforcement, and a bounded busy-wait on lock
// contention, and runs schema migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection avoids
	// SQLITE_BUSY from the driver's own connection pool racing itself.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying *sql.DB for read-only queries issued outside a
// transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a single transaction, committing on success. The
// deferred Rollback is a no-op once Commit has succeeded; it only fires to
// unwind a transaction that fn (or Commit itself) failed. Every multi-row
// repository mutation goes through this so that a task row, its attempt
// row, and its event rows commit atomically or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Schema matches the data model of spec.md §3 with the indexes called for
// by §4.1: tasks(status, priority, created_at) for claim scans,
// tasks(lease_expires_at) for the expiry sweep, attempts(task_id,
// attempt_no) unique, events(created_at DESC) global and
// events(task_id, created_at DESC) per task.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL DEFAULT 'generic',
	title            TEXT NOT NULL,
	prompt           TEXT NOT NULL,
	success_criteria TEXT,
	task_request     TEXT NOT NULL DEFAULT '{}',
	priority         INTEGER NOT NULL DEFAULT 3,
	attempt_count    INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 3,
	status           TEXT NOT NULL DEFAULT 'queued',
	lease_owner      TEXT,
	lease_expires_at TEXT,
	last_error       TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_claim_scan ON tasks(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_lease_expiry ON tasks(lease_expires_at);

CREATE TABLE IF NOT EXISTS attempts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id          TEXT NOT NULL REFERENCES tasks(id),
	attempt_no       INTEGER NOT NULL,
	status           TEXT NOT NULL,
	lease_owner      TEXT NOT NULL,
	lease_expires_at TEXT NOT NULL,
	phase            TEXT NOT NULL DEFAULT '',
	output_json      TEXT NOT NULL DEFAULT '{}',
	started_at       TEXT NOT NULL,
	finished_at      TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_task_no ON attempts(task_id, attempt_no);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     TEXT REFERENCES tasks(id),
	attempt_id  INTEGER REFERENCES attempts(id),
	phase       TEXT NOT NULL DEFAULT '',
	level       TEXT NOT NULL DEFAULT 'info',
	message     TEXT NOT NULL DEFAULT '',
	data_json   TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_global_recent ON events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_task_recent ON events(task_id, created_at DESC);

CREATE TABLE IF NOT EXISTS run_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

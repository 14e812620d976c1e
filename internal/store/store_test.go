package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate call failed: %v", err)
	}
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	now := time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO tasks (id, title, prompt, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			"t1", "Title", "Prompt", now, now,
		)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE id = ?`, "t1").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	now := time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO tasks (id, title, prompt, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			"t2", "Title", "Prompt", now, now,
		); err != nil {
			return err
		}
		return sql.ErrNoRows // force an abort
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE id = ?`, "t2").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to leave 0 rows, got %d", count)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

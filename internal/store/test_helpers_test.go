package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testEpoch }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// beginTestTx opens a transaction that is rolled back at cleanup if still open.
func beginTestTx(t *testing.T, s *Store) *Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	t.Cleanup(func() {
		if tx.State() == TxOpen {
			_ = tx.Rollback()
		}
	})
	return tx
}

// insertTestUser writes a bare user row without a position.
func insertTestUser(t *testing.T, tx *Tx, id, name string) {
	t.Helper()
	_, err := tx.Exec(context.Background(),
		`INSERT INTO users (user_id, name, created_at) VALUES (?, ?, ?)`,
		id, name, FormatTime(tx.Now()))
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

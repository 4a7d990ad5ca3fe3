package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/semantica/internal/store"
)

// NewStore opens a fresh store under t.TempDir() driven by clock.
// A nil clock uses a new Clock.
func NewStore(t *testing.T, clock *Clock) *store.Store {
	t.Helper()
	if clock == nil {
		clock = NewClock()
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Begin opens a transaction that is rolled back at cleanup if still open.
func Begin(t *testing.T, s *store.Store) *store.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		if tx.State() == store.TxOpen {
			_ = tx.Rollback()
		}
	})
	return tx
}

// Count returns the number of rows in table.
func Count(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// ErrTxDone is returned by any Tx method called after Commit or Rollback.
// It signals a programming fault, not a domain error.
var ErrTxDone = errors.New("store: transaction already committed or rolled back")

// TxState is the lifecycle state of a Tx.
type TxState int

const (
	TxOpen TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// Tx is a scoped unit of work. All graph, ledger, and resolver operations
// execute inside one.
//
// Tx is not meant to be shared between goroutines; the mutex only keeps the
// state machine consistent if it is.
type Tx struct {
	mu     sync.Mutex
	tx     *sql.Tx
	id     string
	now    time.Time
	state  TxState
	logger *slog.Logger
}

// ID returns the transaction's unique id, for log correlation.
func (t *Tx) ID() string { return t.id }

// Now returns the timestamp fixed at Begin.
func (t *Tx) Now() time.Time { return t.now }

// State returns the current lifecycle state.
func (t *Tx) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Exec executes a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.tx.ExecContext(ctx, query, args...)
}

// Query runs a query inside the transaction. Callers close the rows.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRow runs a query expected to return at most one row.
// Errors, including ErrTxDone, are deferred to Row.Scan.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if err := t.checkOpen(); err != nil {
		return &Row{err: err}
	}
	return &Row{row: t.tx.QueryRowContext(ctx, query, args...)}
}

// Commit makes all writes durable atomically.
//
// A failed commit leaves the transaction rolled back.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxOpen {
		return ErrTxDone
	}
	if err := t.tx.Commit(); err != nil {
		t.state = TxRolledBack
		t.logger.Debug("transaction commit failed", "tx", t.id, "error", err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.state = TxCommitted
	t.logger.Debug("transaction committed", "tx", t.id)
	return nil
}

// Rollback discards all writes atomically.
//
// Rolling back a transaction whose context was already cancelled succeeds:
// database/sql has discarded it on our behalf.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxOpen {
		return ErrTxDone
	}
	t.state = TxRolledBack
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	t.logger.Debug("transaction rolled back", "tx", t.id)
	return nil
}

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Savepoint marks a point the transaction can later roll back to without
// abandoning earlier writes.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "SAVEPOINT ", name)
}

// RollbackTo undoes every write made since the named savepoint.
// The savepoint stays active and must still be released.
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "ROLLBACK TO SAVEPOINT ", name)
}

// Release forgets the named savepoint, keeping its writes.
func (t *Tx) Release(ctx context.Context, name string) error {
	return t.savepointExec(ctx, "RELEASE SAVEPOINT ", name)
}

func (t *Tx) savepointExec(ctx context.Context, verb, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.Exec(ctx, verb+name); err != nil {
		return fmt.Errorf("%s%s: %w", verb, name, err)
	}
	return nil
}

func (t *Tx) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxOpen {
		return ErrTxDone
	}
	return nil
}

// Row is the result of Tx.QueryRow.
type Row struct {
	row *sql.Row
	err error
}

// Scan copies the row's columns into dest. It returns sql.ErrNoRows when
// the query matched nothing.
func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.row.Scan(dest...)
}

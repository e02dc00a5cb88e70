package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/interrupt"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repository methods that must run inside the applier's chunked transaction
// accept a Querier so the same code serves both paths.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ChunkedTx is a transaction that is periodically committed and reopened so
// long work never starves a concurrent reader: open -> bounded work ->
// commit -> reopen. Committed chunks represent consistent sub-progress and
// are never rolled back retroactively.
type ChunkedTx struct {
	db        *DB
	tx        *sql.Tx
	token     *interrupt.Token
	target    time.Duration
	chunkFrom time.Time
	done      bool
}

// BeginChunked opens a chunked transaction. target bounds the wall clock of
// one chunk; token is consulted at every MaybeCommit and trips the whole
// operation with interrupt.ErrInterrupted.
func (db *DB) BeginChunked(ctx context.Context, target time.Duration, token *interrupt.Token) (*ChunkedTx, error) {
	if target <= 0 {
		target = time.Second
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}

	return &ChunkedTx{
		db:        db,
		tx:        tx,
		token:     token,
		target:    target,
		chunkFrom: time.Now(),
	}, nil
}

// Q returns the currently open transaction as a Querier. Callers must not
// retain the result across MaybeCommit calls.
func (c *ChunkedTx) Q() Querier {
	return c.tx
}

// MaybeCommit checks the interrupt token, then commits and reopens the
// transaction if the current chunk has exceeded its wall-clock target.
// Returns true when a commit happened. On interruption the open chunk is
// rolled back and interrupt.ErrInterrupted is returned.
func (c *ChunkedTx) MaybeCommit(ctx context.Context) (bool, error) {
	if err := c.token.Err(ctx); err != nil {
		rollbackErr := c.Rollback()
		if rollbackErr != nil {
			return false, fmt.Errorf("%w: rollback after interrupt: %w", err, rollbackErr)
		}
		return false, err
	}

	if time.Since(c.chunkFrom) < c.target {
		return false, nil
	}

	if err := c.tx.Commit(); err != nil {
		c.done = true
		return false, fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.done = true
		return false, fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}

	c.tx = tx
	c.chunkFrom = time.Now()

	return true, nil
}

// Commit commits the final chunk.
func (c *ChunkedTx) Commit() error {
	if c.done {
		return nil
	}
	c.done = true

	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}

	return nil
}

// Rollback discards the currently open chunk. Chunks committed earlier stay
// committed. Safe to defer alongside Commit.
func (c *ChunkedTx) Rollback() error {
	if c.done {
		return nil
	}
	c.done = true

	if err := c.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

// MaxVariables is the cap on bind parameters per prepared statement.
// Statements whose parameter count depends on row counts are split so no
// single statement exceeds it.
const MaxVariables = 499

// EachChunk invokes fn over [lo, hi) index windows of at most size elements,
// stopping at the first error.
func EachChunk(n, size int, fn func(lo, hi int) error) error {
	if size <= 0 {
		size = MaxVariables
	}

	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		if err := fn(lo, hi); err != nil {
			return err
		}
	}

	return nil
}

// Placeholders returns a "?, ?, ..." fragment with n positions.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// GuidArgs converts a GUID slice into []any for variadic query APIs.
func GuidArgs[T ~string](guids []T) []any {
	args := make([]any, len(guids))
	for i, g := range guids {
		args[i] = string(g)
	}
	return args
}

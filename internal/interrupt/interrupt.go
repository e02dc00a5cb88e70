// Package interrupt implements the cooperative interrupt token consulted by
// the engine between merge phases and between transaction chunks.
//
// Interruption is cooperative: nothing preempts the engine. The token is read
// at safe points and, once tripped, the current operation returns
// ErrInterrupted before the next chunk boundary; the open transaction chunk
// is rolled back.
package interrupt

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrInterrupted is returned when an operation observed a tripped token.
// Callers match it with errors.Is to distinguish user-initiated stops from
// failures.
var ErrInterrupted = errors.New("operation interrupted")

// Token is a boolean-readable interrupt flag, safe for concurrent use.
// The zero value is a live, untripped token.
type Token struct {
	tripped atomic.Bool
}

// NewToken returns a fresh, untripped token.
func NewToken() *Token {
	return &Token{}
}

// Interrupt trips the token. Idempotent.
func (t *Token) Interrupt() {
	if t == nil {
		return
	}
	t.tripped.Store(true)
}

// Interrupted reports whether the token has been tripped. A nil token is
// never interrupted, so optional tokens need no guards at call sites.
func (t *Token) Interrupted() bool {
	return t != nil && t.tripped.Load()
}

// Err returns ErrInterrupted if the token has been tripped, or the context's
// error if ctx is done, or nil. This is the standard check at chunk and
// phase boundaries.
func (t *Token) Err(ctx context.Context) error {
	if t.Interrupted() {
		return ErrInterrupted
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ErrInterrupted
	}
	return nil
}

package interrupt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_ZeroValueIsLive(t *testing.T) {
	var token Token

	assert.False(t, token.Interrupted())
	assert.NoError(t, token.Err(context.Background()))
}

func TestToken_InterruptTrips(t *testing.T) {
	token := NewToken()

	token.Interrupt()
	token.Interrupt() // idempotent

	assert.True(t, token.Interrupted())

	err := token.Err(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))
}

func TestToken_NilIsNeverInterrupted(t *testing.T) {
	var token *Token

	token.Interrupt() // must not panic
	assert.False(t, token.Interrupted())
	assert.NoError(t, token.Err(context.Background()))
}

func TestToken_ErrReportsDoneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	token := NewToken()
	err := token.Err(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInterrupted))
}

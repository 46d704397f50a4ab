package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "detox/pkg/resilience"
)

func TestRetry_StopsAtFirstSuccess(t *testing.T) {
	calls := 0
	n, err := RetryBool(context.Background(), 3, func(int) bool {
		calls++
		return calls == 3
	})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestRetry_FirstAttemptWins(t *testing.T) {
	n, err := RetryBool(context.Background(), 3, func(int) bool { return true })

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetry_GivesUp(t *testing.T) {
	var seen []int
	n, err := Retry(context.Background(), 3, func(attempt int) error {
		seen = append(seen, attempt)
		return errBackend
	})

	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2, 3}, seen)
	var re *RetryError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 3, re.Attempts)
	assert.ErrorIs(t, err, errBackend)
}

func TestRetry_AtLeastOnce(t *testing.T) {
	calls := 0
	_, _ = RetryBool(context.Background(), 0, func(int) bool { calls++; return false })

	assert.Equal(t, 1, calls)
}

func TestRetry_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	n, err := RetryBool(ctx, 3, func(int) bool {
		calls++
		cancel()
		return false
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, context.Canceled)
}

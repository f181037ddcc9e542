package scope

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_RetriesOnlyResourceExhausted(t *testing.T) {
	calls := 0

	out, err := Retry(context.Background(), 5, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewError(KindResourceExhausted, "no pooled connection available")
		}

		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentFailureNotRetried(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	_, err := Retry(context.Background(), 5, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-exhaustion failures must not be retried")
}

func TestRetry_ConflictNotRetried(t *testing.T) {
	calls := 0

	_, err := Retry(context.Background(), 5, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewError(KindTransactionConflict, "nested scope for a different identity")
	})

	assert.True(t, IsTransactionConflict(err))
	assert.Equal(t, 1, calls)
}

func TestRetry_BoundedAttempts(t *testing.T) {
	calls := 0

	_, err := Retry(context.Background(), 2, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewError(KindResourceExhausted, "still exhausted")
	})

	assert.True(t, IsResourceExhausted(err))
	assert.Equal(t, 2, calls)
}

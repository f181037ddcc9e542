package scope

import (
	"context"

	"github.com/cenkalti/backoff/v5"
)

// Retry runs fn up to maxTries times with exponential backoff, retrying only
// ResourceExhausted failures. Every other failure is permanent: the unit of
// work may not be idempotent, so retrying belongs to the caller who knows what
// is safe to re-run, never to the scope itself.
func Retry[T any](ctx context.Context, maxTries uint, fn func(ctx context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		out, err := fn(ctx)
		if err != nil && !IsResourceExhausted(err) {
			return out, backoff.Permanent(err)
		}

		return out, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
	)
}

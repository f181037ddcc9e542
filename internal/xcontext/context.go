// Package xcontext provides context helpers for work that must outlive the
// caller's cancellation, such as rollbacks and follow-up audit writes.
package xcontext

import (
	"context"
	"time"
)

// DetachWithTimeout returns a context that ignores the parent's cancellation
// but still carries its values, bounded by timeout.
func DetachWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, timeout)

	return ctx, cancel
}

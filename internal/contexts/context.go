package contexts

import (
	"context"
)

// ContextKey defines the context key type.
type ContextKey string

const (
	// containerContextKey is used to store the context container in the context.
	containerContextKey ContextKey = "context_container"
)

// WithTraceID stores the trace id in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	container := getContainer(ctx)

	container.mu.Lock()
	container.TraceID = &traceID
	container.mu.Unlock()

	return withContainer(ctx, container)
}

// GetTraceID retrieves the trace id from the context.
func GetTraceID(ctx context.Context) (string, bool) {
	container := getContainer(ctx)

	container.mu.RLock()
	defer container.mu.RUnlock()

	if container.TraceID != nil {
		return *container.TraceID, true
	}

	return "", false
}

// WithOperationName stores the operation name in the context.
func WithOperationName(ctx context.Context, name string) context.Context {
	container := getContainer(ctx)

	container.mu.Lock()
	container.OperationName = &name
	container.mu.Unlock()

	return withContainer(ctx, container)
}

// GetOperationName retrieves the operation name from the context.
func GetOperationName(ctx context.Context) (string, bool) {
	container := getContainer(ctx)

	container.mu.RLock()
	defer container.mu.RUnlock()

	if container.OperationName != nil {
		return *container.OperationName, true
	}

	return "", false
}

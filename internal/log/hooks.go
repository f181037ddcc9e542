package log

import (
	"context"

	"github.com/campushub/campushub/internal/tracing"
)

// Hook attaches extra fields to a log entry based on the context.
type Hook interface {
	Apply(ctx context.Context, msg string) []Field
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, msg string) []Field

func (f HookFunc) Apply(ctx context.Context, msg string) []Field {
	return f(ctx, msg)
}

func init() {
	RegisterHook(HookFunc(traceFields))
}

// traceFields injects the trace id and operation name carried by the context.
func traceFields(ctx context.Context, _ string) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field

	if traceID, ok := tracing.GetTraceID(ctx); ok {
		fields = append(fields, String("trace_id", traceID))
	}

	if name, ok := tracing.GetOperationName(ctx); ok {
		fields = append(fields, String("operation_name", name))
	}

	return fields
}

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campushub/internal/tracing"
)

func TestRegisterHook_BeforeAnyLoggerExists(t *testing.T) {
	// Hooks register from package init, which can run before any logger has
	// been constructed. Model that state explicitly.
	prev := global.Load()
	defer global.Store(prev)

	global.Store(nil)

	assert.NotPanics(t, func() {
		RegisterHook(HookFunc(func(ctx context.Context, msg string) []Field {
			return nil
		}))
	})

	logger := global.Load()
	require.NotNil(t, logger)
	assert.NotEmpty(t, logger.hooks)
}

func TestInit_RegistersTraceHook(t *testing.T) {
	assert.NotEmpty(t, loadGlobal().hooks)
}

func TestPackageFunctions_DoNotPanic(t *testing.T) {
	ctx := tracing.WithTraceID(context.Background(), "ch-test-trace-id")

	assert.NotPanics(t, func() {
		Debug(ctx, "debug entry")
		Info(ctx, "info entry", String("key", "value"))
		Warn(ctx, "warn entry")
		Error(ctx, "error entry")
		_ = DebugEnabled()
	})
}

func TestSetup_PreservesHooks(t *testing.T) {
	prev := global.Load()
	defer global.Store(prev)

	before := len(loadGlobal().hooks)

	Setup(Config{Name: "campushub-test", Level: "debug", Format: "console", Output: "stderr"})

	assert.Len(t, loadGlobal().hooks, before)
	assert.True(t, DebugEnabled())
}

package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campushub/internal/scope"
	"github.com/campushub/campushub/internal/scope/scopetest"
)

func TestEraseTenant(t *testing.T) {
	pool := scopetest.NewPool()
	pool.Conn.Seed(
		scopetest.Row{Table: "courses", TenantID: "t-A", ID: "c-1"},
		scopetest.Row{Table: "submissions", TenantID: "t-A", UserID: "u-1", ID: "s-1"},
		scopetest.Row{Table: "courses", TenantID: "t-B", ID: "c-2"},
	)

	s := scope.New(pool, scope.Config{AcquireTimeout: time.Second}, scope.NewPGAuditStore())
	svc := NewService(s)

	require.NoError(t, svc.EraseTenant(context.Background(), "t-A", "u-admin"))

	// Only the other tenant's rows remain.
	remaining := pool.Conn.Rows()
	require.Len(t, remaining, 1)
	assert.Equal(t, "t-B", remaining[0].TenantID)

	// The erasure left its audit trail.
	audit := pool.Conn.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "data-erasure", audit[0].Operation)
	assert.Equal(t, "u-admin", audit[0].PerformedBy)
	assert.Equal(t, "tenant", audit[0].ResourceType)
	assert.Equal(t, "t-A", audit[0].ResourceID)
	assert.Equal(t, "SUCCESS", audit[0].Outcome)
	assert.NotEmpty(t, audit[0].TraceID)
}

func TestEraseTenant_RejectsSentinel(t *testing.T) {
	s := scope.New(scopetest.NewPool(), scope.Config{}, scope.NewPGAuditStore())
	svc := NewService(s)

	assert.Error(t, svc.EraseTenant(context.Background(), "__system__", "u-admin"))
	assert.Error(t, svc.EraseTenant(context.Background(), "", "u-admin"))
}

package scope

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campushub/internal/authz"
	"github.com/campushub/campushub/internal/scope/scopetest"
)

func testBypass(t *testing.T, op authz.SystemOperation) authz.BypassContext {
	t.Helper()

	bc, err := authz.NewBypassContext(op, "u-admin", "test-"+string(op))
	require.NoError(t, err)

	return bc
}

func TestRunPrivileged_AssumesSystemRoleAndSentinel(t *testing.T) {
	pool := scopetest.NewPool()
	s := newTestScope(pool)

	err := s.RunPrivileged(context.Background(), testBypass(t, authz.OpScheduledAggregation), func(ctx context.Context, tx pgx.Tx) error {
		return nil
	})
	require.NoError(t, err)

	stmts := pool.Conn.Statements()
	require.GreaterOrEqual(t, len(stmts), 4)
	assert.Equal(t, "BEGIN", stmts[0])
	assert.Equal(t, `SET LOCAL ROLE "campushub_system"`, stmts[1])
	assert.Equal(t, "SET LOCAL current_tenant = '__system__'", stmts[2])
	assert.Equal(t, "SET LOCAL current_user_id = '__system__'", stmts[3])
	assert.Equal(t, "COMMIT", stmts[len(stmts)-1])
}

func TestRunPrivileged_SeesAllTenants(t *testing.T) {
	pool := scopetest.NewPool()
	pool.Conn.Seed(
		scopetest.Row{Table: "courses", TenantID: "t-A", ID: "c-a"},
		scopetest.Row{Table: "courses", TenantID: "t-B", ID: "c-b"},
	)

	s := newTestScope(pool)

	count, err := RunPrivilegedValue(context.Background(), s, testBypass(t, authz.OpAuditExport), func(ctx context.Context, tx pgx.Tx) (int, error) {
		rows, err := tx.Query(ctx, "SELECT id FROM courses")
		if err != nil {
			return 0, err
		}

		defer rows.Close()

		n := 0
		for rows.Next() {
			n++
		}

		return n, rows.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunPrivileged_WritesSuccessAudit(t *testing.T) {
	pool := scopetest.NewPool()
	s := newTestScope(pool)

	bc := testBypass(t, authz.OpSCIMSync).WithResource("tenant", "t-A")

	err := s.RunPrivileged(context.Background(), bc, func(ctx context.Context, tx pgx.Tx) error {
		return nil
	})
	require.NoError(t, err)

	audit := pool.Conn.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "u-admin", audit[0].PerformedBy)
	assert.Equal(t, "test-scim-sync", audit[0].Reason)
	assert.Equal(t, "scim-sync", audit[0].Operation)
	assert.Equal(t, "tenant", audit[0].ResourceType)
	assert.Equal(t, "t-A", audit[0].ResourceID)
	assert.Equal(t, "SUCCESS", audit[0].Outcome)
	assert.False(t, audit[0].OccurredAt.IsZero())
}

func TestRunPrivileged_FailureWritesFailedAudit(t *testing.T) {
	pool := scopetest.NewPool()
	s := newTestScope(pool)

	boom := errors.New("boom")

	err := s.RunPrivileged(context.Background(), testBypass(t, authz.OpDataErasure), func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO courses (id, tenant_id) VALUES ($1, $2)", "c-x", "t-A"); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	// The operation's writes rolled back, the FAILED record committed.
	assert.Empty(t, pool.Conn.Rows())

	audit := pool.Conn.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "FAILED", audit[0].Outcome)
}

func TestRunPrivileged_AuditFailureFailsClosed(t *testing.T) {
	pool := scopetest.NewPool()
	pool.Conn.FailAudit = true

	s := newTestScope(pool)

	err := s.RunPrivileged(context.Background(), testBypass(t, authz.OpDataErasure), func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO courses (id, tenant_id) VALUES ($1, $2)", "c-x", "t-A")
		return err
	})

	// No audit trail, no privileged operation.
	require.Error(t, err)
	assert.Empty(t, pool.Conn.Rows())
	assert.Empty(t, pool.Conn.Audit())
}

func TestRunPrivileged_TwoInvocationsTwoAuditRecords(t *testing.T) {
	pool := scopetest.NewPool()
	s := newTestScope(pool)

	bc := testBypass(t, authz.OpScheduledAggregation)

	for range 2 {
		err := s.RunPrivileged(context.Background(), bc, func(ctx context.Context, tx pgx.Tx) error {
			return nil
		})
		require.NoError(t, err)
	}

	audit := pool.Conn.Audit()
	require.Len(t, audit, 2, "identical invocations append independent records")
	assert.NotEqual(t, audit[0].ID, audit[1].ID)
}

func TestRunPrivileged_ZeroBypassContextRejected(t *testing.T) {
	s := newTestScope(scopetest.NewPool())

	err := s.RunPrivileged(context.Background(), authz.BypassContext{}, func(ctx context.Context, tx pgx.Tx) error {
		t.Fatal("unit of work must not run without a valid bypass context")
		return nil
	})

	assert.True(t, IsUnauthorized(err))
}

func TestRunPrivileged_NestedInsideTenantScopeConflicts(t *testing.T) {
	pool := scopetest.NewPool()
	s := newTestScope(pool)

	err := s.Run(context.Background(), testTenant(t, "t-A", "u-1"), func(ctx context.Context, tx pgx.Tx) error {
		return s.RunPrivileged(ctx, testBypass(t, authz.OpAuditExport), func(ctx context.Context, tx pgx.Tx) error {
			t.Fatal("privileged scope must not nest inside a tenant scope")
			return nil
		})
	})

	assert.True(t, IsTransactionConflict(err))
}

func TestRun_NestedInsidePrivilegedScopeConflicts(t *testing.T) {
	pool := scopetest.NewPool()
	s := newTestScope(pool)

	err := s.RunPrivileged(context.Background(), testBypass(t, authz.OpAuditExport), func(ctx context.Context, tx pgx.Tx) error {
		return s.Run(ctx, testTenant(t, "t-A", "u-1"), func(ctx context.Context, tx pgx.Tx) error {
			t.Fatal("tenant scope must not nest inside a privileged scope")
			return nil
		})
	})

	assert.True(t, IsTransactionConflict(err))
}

// Package scope establishes which tenant and user are in scope for every
// database operation.
//
// The database enforces isolation with row-level-security policies that read
// two transaction-local settings, current_tenant and current_user_id. Physical
// connections come from an external pooler in transaction-pooling mode, so the
// only safe place for those settings is inside an open transaction: SET LOCAL
// state vanishes at commit or rollback, before the connection is handed to an
// unrelated caller. Scope.Run is the single entry point that opens the
// transaction, binds the settings, runs the unit of work and commits or rolls
// back. Scope.RunPrivileged is the explicitly separate path for named system
// operations that act across tenants; it binds a sentinel identity, switches
// to the system database role and writes an audit record for every invocation.
package scope

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campushub/campushub/internal/authz"
	"github.com/campushub/campushub/internal/log"
)

// Session-local setting names read by the row-level-security policies.
// The names are part of the database contract and case-sensitive.
const (
	SettingCurrentTenant = "current_tenant"
	SettingCurrentUser   = "current_user_id"
)

// Pool yields a transaction on a pooled connection. *pgxpool.Pool implements
// it; tests substitute a fake that replays one physical connection.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Config struct {
	// AcquireTimeout bounds how long Run blocks waiting for the pool to yield
	// a connection before failing with ResourceExhausted.
	AcquireTimeout time.Duration `conf:"acquire_timeout" yaml:"acquire_timeout" json:"acquire_timeout"`

	// SystemRole is the database role assumed by the privileged scope. Its
	// policies require the system sentinel explicitly.
	SystemRole string `conf:"system_role" yaml:"system_role" json:"system_role"`
}

// Scope runs units of work inside tenant-bound transactions.
type Scope struct {
	pool  Pool
	cfg   Config
	audit AuditStore
}

// New creates a Scope over pool. audit is required: the privileged path
// refuses to run without an audit trail.
func New(pool Pool, cfg Config, audit AuditStore) *Scope {
	if cfg.SystemRole == "" {
		cfg.SystemRole = DefaultSystemRole
	}

	return &Scope{pool: pool, cfg: cfg, audit: audit}
}

// txState is the transaction stashed in the context for the duration of one
// Run. The handle never escapes the unit-of-work closure; nested Run calls
// find it here and join the same transaction.
type txState struct {
	tx     pgx.Tx
	tenant authz.TenantContext
	bypass bool
}

// txKey is an unexported key type to prevent external forgery.
type txKey struct{}

// Run opens a transaction on a pooled connection, binds the session-local
// settings for tc, invokes fn with the transaction handle and commits, or
// rolls back on any error or panic with the original failure re-raised
// unchanged.
//
// A nested Run inside an open scope joins the enclosing transaction when the
// identity matches and fails with TransactionConflict when it does not; the
// settings are never re-bound with different values inside one transaction.
func (s *Scope) Run(ctx context.Context, tc authz.TenantContext, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	if tc.TenantID == "" || tc.UserID == "" {
		return NewError(KindUnauthorized, "no tenant context supplied")
	}

	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		if st.bypass {
			return NewError(KindTransactionConflict, "tenant scope nested inside a privileged scope")
		}

		if !st.tenant.Equal(tc) {
			return WrapError(KindTransactionConflict, "nested scope for a different identity",
				fmt.Errorf("enclosing=%s, nested=%s", st.tenant.String(), tc.String()))
		}

		if err := fn(ctx, st.tx); err != nil {
			return classify(err)
		}

		return nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	committed := false

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))

			panic(r)
		}

		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := bindTenant(ctx, tx, tc); err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, &txState{tx: tx, tenant: tc})

	if err := fn(txCtx, tx); err != nil {
		return classify(err)
	}

	if err := ctx.Err(); err != nil {
		// The deadline expired while the transaction was open; holding it any
		// longer starves the pool.
		return WrapError(KindResourceExhausted, "deadline expired inside transaction", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("scope: failed to commit: %w", err)
	}

	committed = true

	return nil
}

// sqlstateInsufficientPrivilege is how postgres reports a row-level-security
// WITH CHECK violation.
const sqlstateInsufficientPrivilege = "42501"

// classify maps database errors from the unit of work onto the error taxonomy.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateInsufficientPrivilege {
		return WrapError(KindForbidden, "write denied by row security policy", err)
	}

	return err
}

// begin acquires a connection and opens a transaction under the acquire
// timeout. No session state is touched before the transaction is open: state
// set outside a transaction on a pooled connection leaks to the next caller.
func (s *Scope) begin(ctx context.Context) (pgx.Tx, error) {
	acquireCtx := ctx

	if s.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc

		acquireCtx, cancel = context.WithTimeout(ctx, s.cfg.AcquireTimeout)
		defer cancel()
	}

	tx, err := s.pool.Begin(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, WrapError(KindResourceExhausted, "no pooled connection available", err)
		}

		return nil, fmt.Errorf("scope: failed to begin transaction: %w", err)
	}

	return tx, nil
}

// bindTenant issues the two SET LOCAL assignments inside the open transaction,
// before any business statement.
func bindTenant(ctx context.Context, tx pgx.Tx, tc authz.TenantContext) error {
	for _, stmt := range []string{
		setLocalStatement(SettingCurrentTenant, tc.TenantID),
		setLocalStatement(SettingCurrentUser, tc.UserID),
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			log.Error(ctx, "failed to bind tenant settings",
				log.String("tenant_id", tc.TenantID),
				log.Cause(err),
			)

			return fmt.Errorf("scope: failed to bind session settings: %w", err)
		}
	}

	return nil
}

// setLocalStatement builds a transaction-scoped assignment. SET LOCAL takes no
// bind parameters, so the value is embedded as a quoted literal.
func setLocalStatement(name, value string) string {
	return fmt.Sprintf("SET LOCAL %s = '%s'", name, quoteLiteral(value))
}

func quoteLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// RunValue runs fn inside a tenant scope and returns its value.
func RunValue[T any](ctx context.Context, s *Scope, tc authz.TenantContext, fn func(ctx context.Context, tx pgx.Tx) (T, error)) (T, error) {
	var out T

	err := s.Run(ctx, tc, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = fn(ctx, tx)

		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return out, nil
}

// TxFromContext returns the transaction of the enclosing scope, if any.
// Repositories use it to issue statements without threading the handle
// through every call.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		return nil, false
	}

	return st.tx, true
}

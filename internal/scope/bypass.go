package scope

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"

	"github.com/campushub/campushub/internal/authz"
	"github.com/campushub/campushub/internal/log"
	"github.com/campushub/campushub/internal/rls"
	"github.com/campushub/campushub/internal/xcontext"
)

// DefaultSystemRole is the database role assumed by the privileged scope when
// none is configured.
const DefaultSystemRole = rls.SystemRole

// failureAuditTimeout bounds the detached transaction that records a FAILED
// outcome after the operation's own transaction rolled back.
const failureAuditTimeout = 10 * time.Second

// RunPrivileged runs fn across tenant boundaries for the named system
// operation carried by bc. The transaction binds the system sentinel instead
// of a tenant, assumes the system database role, and appends an audit record
// before returning.
//
// On success the SUCCESS record commits atomically with the operation; if the
// audit write fails the whole transaction rolls back. On failure the original
// error is returned and a FAILED record is written in a follow-up transaction;
// if that write also fails, both errors surface.
func (s *Scope) RunPrivileged(ctx context.Context, bc authz.BypassContext, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if !bc.Operation().Valid() {
		return NewError(KindUnauthorized, "no bypass context supplied")
	}

	if s.audit == nil {
		return NewError(KindUnauthorized, "privileged scope requires an audit store")
	}

	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return NewError(KindTransactionConflict, "privileged scope nested inside an open scope")
	}

	log.Info(ctx, "privileged scope invoked",
		log.String("operation", string(bc.Operation())),
		log.String("performed_by", bc.PerformedBy()),
		log.String("reason", bc.Reason()),
	)

	runErr := s.runPrivilegedTx(ctx, bc, fn)
	if runErr == nil {
		return nil
	}

	if auditErr := s.appendFailureAudit(ctx, bc); auditErr != nil {
		return multierror.Append(runErr, auditErr)
	}

	return runErr
}

func (s *Scope) runPrivilegedTx(ctx context.Context, bc authz.BypassContext, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := s.beginPrivileged(ctx)
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

	txCtx := context.WithValue(ctx, txKey{}, &txState{tx: tx, bypass: true})

	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return WrapError(KindResourceExhausted, "deadline expired inside transaction", err)
	}

	resourceType, resourceID := bc.Resource()
	record := newAuditRecord(ctx, string(bc.Operation()), bc.PerformedBy(), bc.Reason(), resourceType, resourceID, OutcomeSuccess)

	if err := s.audit.Append(txCtx, tx, record); err != nil {
		// No privileged operation completes without its audit trail.
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("scope: failed to commit: %w", err)
	}

	committed = true

	return nil
}

// beginPrivileged opens a transaction, assumes the system role and binds the
// sentinel identity. The sentinel is a distinct value the policies require
// explicitly; an unset setting still denies.
func (s *Scope) beginPrivileged(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	stmts := []string{
		fmt.Sprintf("SET LOCAL ROLE %s", pgx.Identifier{s.cfg.SystemRole}.Sanitize()),
		setLocalStatement(SettingCurrentTenant, authz.SystemTenant),
		setLocalStatement(SettingCurrentUser, authz.SystemTenant),
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))

			return nil, fmt.Errorf("scope: failed to assume system role: %w", err)
		}
	}

	return tx, nil
}

// appendFailureAudit records a FAILED outcome in its own transaction, after
// the operation's transaction has rolled back. The write must land even when
// the caller's context is already dead, so it runs detached with its own
// deadline.
func (s *Scope) appendFailureAudit(ctx context.Context, bc authz.BypassContext) (err error) {
	auditCtx, cancel := xcontext.DetachWithTimeout(ctx, failureAuditTimeout)
	defer cancel()

	tx, err := s.beginPrivileged(auditCtx)
	if err != nil {
		return err
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback(auditCtx)
		}
	}()

	resourceType, resourceID := bc.Resource()
	record := newAuditRecord(ctx, string(bc.Operation()), bc.PerformedBy(), bc.Reason(), resourceType, resourceID, OutcomeFailed)

	if err := s.audit.Append(auditCtx, tx, record); err != nil {
		return err
	}

	if err := tx.Commit(auditCtx); err != nil {
		return fmt.Errorf("scope: failed to commit audit record: %w", err)
	}

	committed = true

	return nil
}

// RunPrivilegedValue runs fn inside a privileged scope and returns its value.
func RunPrivilegedValue[T any](ctx context.Context, s *Scope, bc authz.BypassContext, fn func(ctx context.Context, tx pgx.Tx) (T, error)) (T, error) {
	var out T

	err := s.RunPrivileged(ctx, bc, func(ctx context.Context, tx pgx.Tx) error {
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

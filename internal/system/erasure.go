// Package system hosts the named cross-tenant operations. Each one constructs
// its own BypassContext; nothing else in the codebase may reach the privileged
// scope.
package system

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campushub/campushub/internal/authz"
	"github.com/campushub/campushub/internal/log"
	"github.com/campushub/campushub/internal/rls"
	"github.com/campushub/campushub/internal/scope"
	"github.com/campushub/campushub/internal/tracing"
)

type Service struct {
	scope *scope.Scope
}

func NewService(s *scope.Scope) *Service {
	return &Service{scope: s}
}

// EraseTenant removes every row belonging to tenantID across the platform
// schema, for a verified deletion request. performedBy identifies the operator
// who approved the request and ends up in the audit trail.
func (s *Service) EraseTenant(ctx context.Context, tenantID, performedBy string) error {
	if tenantID == "" || tenantID == authz.SystemTenant {
		return fmt.Errorf("system: invalid tenant id %q", tenantID)
	}

	if _, ok := tracing.GetTraceID(ctx); !ok {
		ctx = tracing.WithTraceID(ctx, tracing.GenerateTraceID())
	}

	ctx = tracing.WithOperationName(ctx, string(authz.OpDataErasure))

	bc, err := authz.NewBypassContext(authz.OpDataErasure, performedBy, "tenant-erasure")
	if err != nil {
		return err
	}

	bc = bc.WithResource("tenant", tenantID)

	err = s.scope.RunPrivileged(ctx, bc, func(ctx context.Context, tx pgx.Tx) error {
		for _, table := range rls.Tables {
			if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1", table.Name), tenantID); err != nil {
				return fmt.Errorf("system: failed to erase %s: %w", table.Name, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Info(ctx, "tenant erased",
		log.String("tenant_id", tenantID),
		log.String("performed_by", performedBy),
	)

	return nil
}

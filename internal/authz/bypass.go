package authz

import (
	"fmt"
	"time"
)

// SystemOperation names a privileged cross-tenant operation. Only these named
// operations may obtain a BypassContext; there is deliberately no way to
// request a bypass for an ad-hoc reason string alone.
type SystemOperation string

const (
	// OpDataErasure erases all rows of a tenant or user on a verified deletion request.
	OpDataErasure SystemOperation = "data-erasure"
	// OpScheduledAggregation computes cross-tenant usage aggregates from scheduled jobs.
	OpScheduledAggregation SystemOperation = "scheduled-aggregation"
	// OpSCIMSync provisions and deprovisions users from the tenant's identity provider.
	OpSCIMSync SystemOperation = "scim-sync"
	// OpAuditExport exports the audit trail for compliance review.
	OpAuditExport SystemOperation = "audit-export"
)

// Valid reports whether op is one of the declared system operations.
func (op SystemOperation) Valid() bool {
	switch op {
	case OpDataErasure, OpScheduledAggregation, OpSCIMSync, OpAuditExport:
		return true
	default:
		return false
	}
}

// BypassContext marks a privileged invocation that acts across tenant
// boundaries. It is a separate type, not a TenantContext with a wildcard
// tenant, so the privileged path can never be reached by accident. All fields
// are unexported; NewBypassContext is the only constructor.
type BypassContext struct {
	operation    SystemOperation
	performedBy  string
	reason       string
	grantedAt    time.Time
	resourceType string
	resourceID   string
}

// NewBypassContext constructs a BypassContext for a named system operation.
// reason must be a stable string for audit aggregation, performedBy identifies
// the user or service account on whose behalf the operation runs.
func NewBypassContext(op SystemOperation, performedBy, reason string) (BypassContext, error) {
	if !op.Valid() {
		return BypassContext{}, fmt.Errorf("authz: unknown system operation %q", op)
	}

	if performedBy == "" {
		return BypassContext{}, fmt.Errorf("authz: bypass requires a performer identity")
	}

	if reason == "" {
		return BypassContext{}, fmt.Errorf("authz: bypass requires a reason")
	}

	return BypassContext{
		operation:   op,
		performedBy: performedBy,
		reason:      reason,
		grantedAt:   time.Now(),
	}, nil
}

// Operation returns the named system operation.
func (bc BypassContext) Operation() SystemOperation { return bc.operation }

// PerformedBy returns the identity the operation runs on behalf of.
func (bc BypassContext) PerformedBy() string { return bc.performedBy }

// Reason returns the stable audit reason.
func (bc BypassContext) Reason() string { return bc.reason }

// GrantedAt returns when the bypass was constructed.
func (bc BypassContext) GrantedAt() time.Time { return bc.grantedAt }

// WithResource returns a copy of bc annotated with the resource the operation
// acts on, recorded in the audit trail.
func (bc BypassContext) WithResource(resourceType, resourceID string) BypassContext {
	bc.resourceType = resourceType
	bc.resourceID = resourceID

	return bc
}

// Resource returns the annotated resource, both parts may be empty.
func (bc BypassContext) Resource() (resourceType, resourceID string) {
	return bc.resourceType, bc.resourceID
}

// String returns string representation of BypassContext (for audit logs).
func (bc BypassContext) String() string {
	return fmt.Sprintf("system:%s by:%s reason:%s", bc.operation, bc.performedBy, bc.reason)
}

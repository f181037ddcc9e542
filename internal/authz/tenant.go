package authz

import (
	"context"
	"fmt"
)

// SystemTenant is the sentinel value bound to current_tenant by the privileged
// scope. Database policies for the system role require this exact value; it is
// never a valid tenant identifier.
const SystemTenant = "__system__"

// TenantContext is the authorization identity of one inbound request or job:
// which tenant and which user every row-level policy evaluates against.
// It is passed by value and never mutated.
type TenantContext struct {
	TenantID string
	UserID   string
	Role     Role
}

// NewTenantContext constructs a TenantContext.
// Only the authentication boundary may call this in production code; handlers
// receive the context and pass it along unchanged.
func NewTenantContext(tenantID, userID string, role Role) (TenantContext, error) {
	if tenantID == "" {
		return TenantContext{}, fmt.Errorf("authz: tenant id must not be empty")
	}

	if userID == "" {
		return TenantContext{}, fmt.Errorf("authz: user id must not be empty")
	}

	if tenantID == SystemTenant {
		return TenantContext{}, fmt.Errorf("authz: tenant id %q is reserved", SystemTenant)
	}

	if !role.Valid() {
		return TenantContext{}, fmt.Errorf("authz: unknown role %q", role)
	}

	if role == RoleSystem {
		return TenantContext{}, fmt.Errorf("authz: system work must use a BypassContext, not a tenant context")
	}

	return TenantContext{TenantID: tenantID, UserID: userID, Role: role}, nil
}

// Equal compares two TenantContexts structurally.
func (tc TenantContext) Equal(other TenantContext) bool {
	return tc.TenantID == other.TenantID && tc.UserID == other.UserID && tc.Role == other.Role
}

// String returns string representation of TenantContext (for audit logs).
func (tc TenantContext) String() string {
	return fmt.Sprintf("tenant:%s user:%s role:%s", tc.TenantID, tc.UserID, tc.Role)
}

// tenantKey is an unexported key type to prevent external forgery.
type tenantKey struct{}

// WithTenantContext sets the TenantContext, returns error if a different one
// already exists. Ensures each context carries at most one identity, preventing
// tenant mixing along a call chain.
func WithTenantContext(ctx context.Context, tc TenantContext) (context.Context, error) {
	if existing, ok := FromContext(ctx); ok {
		if !existing.Equal(tc) {
			return ctx, fmt.Errorf("authz: tenant context conflict: existing=%s, new=%s", existing.String(), tc.String())
		}

		return ctx, nil // Same identity, idempotent
	}

	return context.WithValue(ctx, tenantKey{}, tc), nil
}

// FromContext reads the TenantContext.
func FromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantKey{}).(TenantContext)
	return tc, ok
}

// MustFromContext reads the TenantContext, panics if not present (used in
// chains where the authentication middleware has already run).
func MustFromContext(ctx context.Context) TenantContext {
	tc, ok := FromContext(ctx)
	if !ok {
		panic("authz: no tenant context in context")
	}

	return tc
}

// RequireTenantContext checks that a TenantContext exists, otherwise returns error.
func RequireTenantContext(ctx context.Context) error {
	if _, ok := FromContext(ctx); !ok {
		return fmt.Errorf("authz: no tenant context in context")
	}

	return nil
}

package authz

import (
	"context"
	"testing"
)

func TestNewTenantContext(t *testing.T) {
	tc, err := NewTenantContext("t-acme", "u-1", RoleInstructor)
	if err != nil {
		t.Fatalf("NewTenantContext failed: %v", err)
	}

	if tc.TenantID != "t-acme" || tc.UserID != "u-1" || tc.Role != RoleInstructor {
		t.Errorf("unexpected context: %s", tc.String())
	}
}

func TestNewTenantContext_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		tenantID string
		userID   string
		role     Role
	}{
		{"empty tenant", "", "u-1", RoleStudent},
		{"empty user", "t-acme", "", RoleStudent},
		{"reserved sentinel tenant", SystemTenant, "u-1", RoleStudent},
		{"unknown role", "t-acme", "u-1", Role("JANITOR")},
		{"system role on request path", "t-acme", "u-1", RoleSystem},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTenantContext(tt.tenantID, tt.userID, tt.role); err == nil {
				t.Error("expected construction to fail")
			}
		})
	}
}

func TestTenantContextEqual(t *testing.T) {
	a, _ := NewTenantContext("t-acme", "u-1", RoleStudent)
	b, _ := NewTenantContext("t-acme", "u-1", RoleStudent)
	c, _ := NewTenantContext("t-acme", "u-2", RoleStudent)

	if !a.Equal(b) {
		t.Error("identical contexts should be equal")
	}

	if a.Equal(c) {
		t.Error("contexts with different users should not be equal")
	}
}

func TestWithTenantContext_SetOnce(t *testing.T) {
	tc, _ := NewTenantContext("t-acme", "u-1", RoleOrgAdmin)

	ctx, err := WithTenantContext(context.Background(), tc)
	if err != nil {
		t.Fatalf("WithTenantContext failed: %v", err)
	}

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext should find the tenant context")
	}

	if !got.Equal(tc) {
		t.Errorf("FromContext = %s, want %s", got.String(), tc.String())
	}

	// Re-setting the same identity is idempotent.
	if _, err := WithTenantContext(ctx, tc); err != nil {
		t.Errorf("idempotent re-set failed: %v", err)
	}

	// Re-setting a different identity is a conflict.
	other, _ := NewTenantContext("t-globex", "u-2", RoleStudent)
	if _, err := WithTenantContext(ctx, other); err == nil {
		t.Error("conflicting re-set should fail")
	}
}

func TestRequireTenantContext(t *testing.T) {
	if err := RequireTenantContext(context.Background()); err == nil {
		t.Error("RequireTenantContext should fail without a context")
	}

	tc, _ := NewTenantContext("t-acme", "u-1", RoleResearcher)
	ctx, _ := WithTenantContext(context.Background(), tc)

	if err := RequireTenantContext(ctx); err != nil {
		t.Errorf("RequireTenantContext failed: %v", err)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext should panic without a tenant context")
		}
	}()

	MustFromContext(context.Background())
}

package authz

import "fmt"

// Role is the platform role carried by a TenantContext.
type Role string

const (
	// RoleSuperAdmin platform operator with administrative access to every organization.
	RoleSuperAdmin Role = "SUPER_ADMIN"
	// RoleOrgAdmin administrator of a single organization.
	RoleOrgAdmin Role = "ORG_ADMIN"
	// RoleInstructor instructor within an organization.
	RoleInstructor Role = "INSTRUCTOR"
	// RoleStudent student within an organization.
	RoleStudent Role = "STUDENT"
	// RoleResearcher researcher with read access to anonymized data of their organization.
	RoleResearcher Role = "RESEARCHER"
	// RoleSystem internal system identity. Never carried by a request-scoped
	// TenantContext; system work goes through BypassContext.
	RoleSystem Role = "SYSTEM"
)

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleOrgAdmin, RoleInstructor, RoleStudent, RoleResearcher, RoleSystem:
		return true
	default:
		return false
	}
}

// String returns string representation of Role.
func (r Role) String() string {
	return string(r)
}

// ParseRole parses a role string as produced by the authentication layer.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("authz: unknown role %q", s)
	}

	return r, nil
}

// Package rls defines the row-level-security contract the scope layer depends
// on: which tables are tenant- or user-scoped, the exact policy predicates the
// database evaluates, and the migration DDL that installs them.
//
// Every predicate uses the two-argument current_setting(..., TRUE) form. With
// TRUE an unset setting yields NULL, the predicate evaluates false and the row
// is denied; the one-argument form raises an error that a careless caller
// could catch and misread as "no filter". Fail-closed depends on this.
package rls

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/lo"

	"github.com/campushub/campushub/internal/authz"
	"github.com/campushub/campushub/internal/log"
)

// SystemRole is the database role whose policies grant cross-tenant access.
// Its policies require the system sentinel explicitly, not merely any value.
const SystemRole = "campushub_system"

// AuditTable holds the privileged-operation audit trail.
const AuditTable = "rls_audit_log"

// Table describes one tenant-scoped table of the platform schema.
type Table struct {
	Name string
	// UserScoped tables additionally restrict rows to the current user.
	UserScoped bool
}

// Tables is the platform schema covered by the isolation contract.
var Tables = []Table{
	{Name: "courses"},
	{Name: "assignments"},
	{Name: "research_datasets"},
	{Name: "enrollments", UserScoped: true},
	{Name: "submissions", UserScoped: true},
}

// TenantPredicate is the per-row tenant check, bit-exact.
func TenantPredicate() string {
	return `tenant_id::text = current_setting('current_tenant', TRUE)`
}

// UserPredicate is the additional per-row user check for user-scoped tables.
func UserPredicate() string {
	return `user_id::text = current_setting('current_user_id', TRUE)`
}

// SystemPredicate admits only transactions that bound the system sentinel.
func SystemPredicate() string {
	return fmt.Sprintf(`current_setting('current_tenant', TRUE) = '%s'`, authz.SystemTenant)
}

// Predicate returns the full row predicate for the table.
func (t Table) Predicate() string {
	if t.UserScoped {
		return fmt.Sprintf("%s AND %s", TenantPredicate(), UserPredicate())
	}

	return TenantPredicate()
}

// Policies returns the DDL installing the table's isolation policies.
// FORCE applies them to the table owner too; there is no permissive fallback.
func (t Table) Policies() []string {
	predicate := t.Predicate()
	system := SystemPredicate()

	return []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", t.Name),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", t.Name),
		fmt.Sprintf("DROP POLICY IF EXISTS %s_tenant_isolation ON %s", t.Name, t.Name),
		fmt.Sprintf("CREATE POLICY %s_tenant_isolation ON %s FOR ALL USING (%s) WITH CHECK (%s)",
			t.Name, t.Name, predicate, predicate),
		fmt.Sprintf("DROP POLICY IF EXISTS %s_system_access ON %s", t.Name, t.Name),
		fmt.Sprintf("CREATE POLICY %s_system_access ON %s FOR ALL TO %s USING (%s) WITH CHECK (%s)",
			t.Name, t.Name, SystemRole, system, system),
	}
}

// roleDDL creates the system role if missing and grants it table access.
// Row visibility still goes through the policies above.
func roleDDL() []string {
	stmts := []string{
		fmt.Sprintf(`DO $$ BEGIN IF NOT EXISTS (SELECT FROM pg_roles WHERE rolname = '%s') THEN CREATE ROLE %s NOLOGIN; END IF; END $$`,
			SystemRole, SystemRole),
	}

	for _, t := range Tables {
		stmts = append(stmts, fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON %s TO %s", t.Name, SystemRole))
	}

	return stmts
}

// auditDDL creates the audit table. Only the system role writes it; ordinary
// tenants can neither read nor write the trail.
func auditDDL() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	performed_by TEXT NOT NULL,
	reason TEXT NOT NULL,
	operation TEXT NOT NULL,
	resource_type TEXT,
	resource_id TEXT,
	outcome TEXT NOT NULL,
	trace_id TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
)`, AuditTable),
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", AuditTable),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", AuditTable),
		fmt.Sprintf("DROP POLICY IF EXISTS %s_system_access ON %s", AuditTable, AuditTable),
		fmt.Sprintf("CREATE POLICY %s_system_access ON %s FOR ALL TO %s USING (%s) WITH CHECK (%s)",
			AuditTable, AuditTable, SystemRole, SystemPredicate(), SystemPredicate()),
		fmt.Sprintf("GRANT SELECT, INSERT ON %s TO %s", AuditTable, SystemRole),
	}
}

// Statements returns the complete migration, in application order.
func Statements() []string {
	stmts := auditDDL()
	stmts = append(stmts, lo.FlatMap(Tables, func(t Table, _ int) []string {
		return t.Policies()
	})...)
	stmts = append(stmts, roleDDL()...)

	return stmts
}

// Execer is the statement executor Migrate runs against. *pgxpool.Pool
// implements it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Migrate applies the isolation contract to the database.
func Migrate(ctx context.Context, db Execer) error {
	for _, stmt := range Statements() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("rls: migration statement failed: %w", err)
		}
	}

	log.Info(ctx, "row-level-security contract applied",
		log.Int("tables", len(Tables)),
		log.Int("statements", len(Statements())),
	)

	return nil
}

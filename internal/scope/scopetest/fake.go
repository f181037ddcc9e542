// Package scopetest provides an in-memory fake of the pooled database used by
// the scope tests. The fake models the parts of the contract the scope layer
// depends on: one physical connection serving sequential transactions,
// transaction-local settings that vanish at commit or rollback, and row
// visibility evaluated the way the row-level-security policies evaluate it
// (unset setting denies, system role plus sentinel sees everything).
package scopetest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row is one tenant-scoped table row.
type Row struct {
	Table    string
	TenantID string
	UserID   string
	ID       string
}

// AuditRow is one persisted rls_audit_log entry.
type AuditRow struct {
	ID           string
	PerformedBy  string
	Reason       string
	Operation    string
	ResourceType string
	ResourceID   string
	Outcome      string
	TraceID      string
	OccurredAt   time.Time
}

// Conn is the single physical connection behind the fake pool. It records
// every statement in execution order so tests can assert that the settings are
// bound before any business statement and that nothing leaks between
// sequential transactions.
type Conn struct {
	mu         sync.Mutex
	statements []string
	rows       []Row
	audit      []AuditRow

	// UserScoped marks the tables whose policies also require a user match.
	UserScoped map[string]bool
	// SystemRole is the role name whose policies accept the system sentinel.
	SystemRole string
	// FailAudit makes every rls_audit_log insert fail.
	FailAudit bool

	inTx bool
}

func NewConn() *Conn {
	return &Conn{
		UserScoped: map[string]bool{},
		SystemRole: "campushub_system",
	}
}

// Seed inserts committed rows directly, outside any transaction.
func (c *Conn) Seed(rows ...Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rows...)
}

// Rows returns the committed rows.
func (c *Conn) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.rows)
}

// Audit returns the committed audit entries.
func (c *Conn) Audit() []AuditRow {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.audit)
}

// Statements returns every statement executed on the connection, in order,
// including BEGIN, COMMIT and ROLLBACK markers.
func (c *Conn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.statements)
}

func (c *Conn) log(stmt string) {
	c.statements = append(c.statements, stmt)
}

func (c *Conn) begin() (pgx.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inTx {
		return nil, errors.New("scopetest: connection already serves a transaction")
	}

	c.inTx = true
	c.log("BEGIN")

	return &Tx{
		conn:     c,
		working:  slices.Clone(c.rows),
		audit:    slices.Clone(c.audit),
		settings: map[string]string{},
	}, nil
}

// Pool hands out transactions on the one underlying connection, like a
// transaction-pooling pooler with a pool size of one.
type Pool struct {
	Conn *Conn
	// BeginErr fails every Begin with the given error.
	BeginErr error
	// Exhausted makes Begin block until the context is done, simulating a
	// pool with no free connections.
	Exhausted bool
}

func NewPool() *Pool {
	return &Pool{Conn: NewConn()}
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.Exhausted {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if p.BeginErr != nil {
		return nil, p.BeginErr
	}

	return p.Conn.begin()
}

// Tx is one transaction on the fake connection. Settings and the system role
// live on the transaction and are discarded at commit or rollback, modelling
// SET LOCAL semantics.
type Tx struct {
	conn     *Conn
	working  []Row
	audit    []AuditRow
	settings map[string]string
	role     string
	done     bool
}

var (
	setLocalRE   = regexp.MustCompile(`^SET LOCAL (\w+) = '(.*)'$`)
	setRoleRE    = regexp.MustCompile(`^SET LOCAL ROLE "?([\w]+)"?$`)
	insertRE     = regexp.MustCompile(`^INSERT INTO (\w+) `)
	deleteRE     = regexp.MustCompile(`^DELETE FROM (\w+)(?: WHERE tenant_id = \$1)?$`)
	selectRE     = regexp.MustCompile(`^SELECT id FROM (\w+)(?: WHERE id = \$1)?$`)
	selectWhere  = regexp.MustCompile(`WHERE id = \$1$`)
	deleteTenant = regexp.MustCompile(`WHERE tenant_id = \$1$`)
)

// visible evaluates the policy predicate for one row: the tenant setting must
// be present and match, user-scoped tables also require the user setting to
// match, and the system role with the sentinel sees everything. An unset
// setting always denies.
func (t *Tx) visible(r Row) bool {
	if t.role == t.conn.SystemRole && t.settings["current_tenant"] == "__system__" {
		return true
	}

	tenant := t.settings["current_tenant"]
	if tenant == "" || r.TenantID != tenant {
		return false
	}

	if t.conn.UserScoped[r.Table] {
		user := t.settings["current_user_id"]
		if user == "" || r.UserID != user {
			return false
		}
	}

	return true
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.done {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}

	t.conn.mu.Lock()
	t.conn.log(sql)
	t.conn.mu.Unlock()

	switch {
	case setRoleRE.MatchString(sql):
		t.role = setRoleRE.FindStringSubmatch(sql)[1]
		return pgconn.CommandTag{}, nil

	case setLocalRE.MatchString(sql):
		m := setLocalRE.FindStringSubmatch(sql)
		t.settings[m[1]] = strings.ReplaceAll(m[2], "''", "'")

		return pgconn.CommandTag{}, nil

	case strings.HasPrefix(sql, "INSERT INTO rls_audit_log"):
		return t.execAuditInsert(args)

	case insertRE.MatchString(sql):
		return t.execInsert(insertRE.FindStringSubmatch(sql)[1], args)

	case deleteRE.MatchString(sql):
		return t.execDelete(deleteRE.FindStringSubmatch(sql)[1], sql, args)

	default:
		return pgconn.CommandTag{}, fmt.Errorf("scopetest: unsupported statement %q", sql)
	}
}

// policyViolation mirrors how postgres reports a row-level-security WITH CHECK
// failure: SQLSTATE 42501, insufficient_privilege.
func policyViolation(table string) error {
	return &pgconn.PgError{
		Severity: "ERROR",
		Code:     "42501",
		Message:  fmt.Sprintf("new row violates row-level security policy for table %q", table),
	}
}

func (t *Tx) execAuditInsert(args []any) (pgconn.CommandTag, error) {
	// The audit table is system-only.
	if t.role != t.conn.SystemRole || t.settings["current_tenant"] != "__system__" {
		return pgconn.CommandTag{}, policyViolation("rls_audit_log")
	}

	if t.conn.FailAudit {
		return pgconn.CommandTag{}, errors.New("scopetest: audit insert failed")
	}

	if len(args) != 9 {
		return pgconn.CommandTag{}, fmt.Errorf("scopetest: audit insert expects 9 args, got %d", len(args))
	}

	occurredAt, _ := args[8].(time.Time)
	t.audit = append(t.audit, AuditRow{
		ID:           fmt.Sprint(args[0]),
		PerformedBy:  fmt.Sprint(args[1]),
		Reason:       fmt.Sprint(args[2]),
		Operation:    fmt.Sprint(args[3]),
		ResourceType: fmt.Sprint(args[4]),
		ResourceID:   fmt.Sprint(args[5]),
		Outcome:      fmt.Sprint(args[6]),
		TraceID:      fmt.Sprint(args[7]),
		OccurredAt:   occurredAt,
	})

	return pgconn.CommandTag{}, nil
}

func (t *Tx) execInsert(table string, args []any) (pgconn.CommandTag, error) {
	tenant := t.settings["current_tenant"]

	if t.role == t.conn.SystemRole && tenant == "__system__" {
		// System inserts carry the target tenant explicitly.
		if len(args) < 2 {
			return pgconn.CommandTag{}, errors.New("scopetest: system insert expects (id, tenant_id)")
		}

		t.working = append(t.working, Row{Table: table, ID: fmt.Sprint(args[0]), TenantID: fmt.Sprint(args[1])})

		return pgconn.CommandTag{}, nil
	}

	// WITH CHECK: an unset tenant setting denies the write.
	if tenant == "" {
		return pgconn.CommandTag{}, policyViolation(table)
	}

	if len(args) < 1 {
		return pgconn.CommandTag{}, errors.New("scopetest: insert expects (id)")
	}

	t.working = append(t.working, Row{
		Table:    table,
		ID:       fmt.Sprint(args[0]),
		TenantID: tenant,
		UserID:   t.settings["current_user_id"],
	})

	return pgconn.CommandTag{}, nil
}

func (t *Tx) execDelete(table, sql string, args []any) (pgconn.CommandTag, error) {
	byTenant := deleteTenant.MatchString(sql)

	kept := t.working[:0:0]

	for _, r := range t.working {
		if r.Table != table || !t.visible(r) {
			kept = append(kept, r)
			continue
		}

		if byTenant && r.TenantID != fmt.Sprint(args[0]) {
			kept = append(kept, r)
		}
	}

	t.working = kept

	return pgconn.CommandTag{}, nil
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.done {
		return nil, pgx.ErrTxClosed
	}

	t.conn.mu.Lock()
	t.conn.log(sql)
	t.conn.mu.Unlock()

	m := selectRE.FindStringSubmatch(sql)
	if m == nil {
		return nil, fmt.Errorf("scopetest: unsupported query %q", sql)
	}

	table := m[1]
	byID := selectWhere.MatchString(sql)

	var ids []string

	for _, r := range t.working {
		if r.Table != table || !t.visible(r) {
			continue
		}

		if byID && r.ID != fmt.Sprint(args[0]) {
			continue
		}

		ids = append(ids, r.ID)
	}

	return &rows{ids: ids}, nil
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rs, err := t.Query(ctx, sql, args...)
	if err != nil {
		return &row{err: err}
	}

	r := rs.(*rows)

	return &row{ids: r.ids}
}

func (t *Tx) Commit(ctx context.Context) error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()

	if t.done {
		return pgx.ErrTxClosed
	}

	t.done = true
	t.conn.inTx = false
	t.conn.rows = t.working
	t.conn.audit = t.audit
	t.conn.log("COMMIT")

	// SET LOCAL state vanishes with the transaction.
	t.settings = nil
	t.role = ""

	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()

	if t.done {
		return pgx.ErrTxClosed
	}

	t.done = true
	t.conn.inTx = false
	t.conn.log("ROLLBACK")
	t.settings = nil
	t.role = ""

	return nil
}

func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("scopetest: savepoints not supported")
}

func (t *Tx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("scopetest: CopyFrom not supported")
}

func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("scopetest: SendBatch not supported")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("scopetest: LargeObjects not supported")
}

func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("scopetest: Prepare not supported")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

// rows implements pgx.Rows over a list of row ids.
type rows struct {
	ids []string
	i   int
	err error
}

func (r *rows) Next() bool {
	if r.i >= len(r.ids) {
		return false
	}

	r.i++

	return true
}

func (r *rows) Scan(dest ...any) error {
	if len(dest) != 1 {
		return fmt.Errorf("scopetest: expected 1 scan destination, got %d", len(dest))
	}

	s, ok := dest[0].(*string)
	if !ok {
		return fmt.Errorf("scopetest: expected *string destination, got %T", dest[0])
	}

	*s = r.ids[r.i-1]

	return nil
}

func (r *rows) Close()                                       {}
func (r *rows) Err() error                                   { return r.err }
func (r *rows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rows) Values() ([]any, error)                       { return nil, nil }
func (r *rows) RawValues() [][]byte                          { return nil }
func (r *rows) Conn() *pgx.Conn                              { return nil }

// row implements pgx.Row.
type row struct {
	ids []string
	err error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}

	if len(r.ids) == 0 {
		return pgx.ErrNoRows
	}

	rs := rows{ids: r.ids, i: 1}

	return rs.Scan(dest...)
}

package scope

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campushub/campushub/internal/tracing"
)

// Outcome of an audited privileged operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// AuditRecord is one entry of the privileged-operation audit trail.
type AuditRecord struct {
	ID           uuid.UUID
	PerformedBy  string
	Reason       string
	Operation    string
	ResourceType string
	ResourceID   string
	Outcome      Outcome
	TraceID      string
	Timestamp    time.Time
}

// AuditStore persists audit records. Append writes through the supplied
// transaction so that a SUCCESS record commits atomically with the operation
// it describes.
type AuditStore interface {
	Append(ctx context.Context, tx pgx.Tx, record AuditRecord) error
}

const insertAuditSQL = `INSERT INTO rls_audit_log
	(id, performed_by, reason, operation, resource_type, resource_id, outcome, trace_id, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// PGAuditStore writes audit records to the rls_audit_log table.
type PGAuditStore struct{}

func NewPGAuditStore() *PGAuditStore {
	return &PGAuditStore{}
}

func (s *PGAuditStore) Append(ctx context.Context, tx pgx.Tx, record AuditRecord) error {
	_, err := tx.Exec(ctx, insertAuditSQL,
		record.ID,
		record.PerformedBy,
		record.Reason,
		record.Operation,
		record.ResourceType,
		record.ResourceID,
		string(record.Outcome),
		record.TraceID,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("scope: failed to append audit record: %w", err)
	}

	return nil
}

// newAuditRecord builds the record for one privileged invocation. Every
// invocation gets a fresh ID; two identical operations produce two records.
func newAuditRecord(ctx context.Context, op, performedBy, reason, resourceType, resourceID string, outcome Outcome) AuditRecord {
	traceID, _ := tracing.GetTraceID(ctx)

	return AuditRecord{
		ID:           uuid.New(),
		PerformedBy:  performedBy,
		Reason:       reason,
		Operation:    op,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      outcome,
		TraceID:      traceID,
		Timestamp:    time.Now(),
	}
}

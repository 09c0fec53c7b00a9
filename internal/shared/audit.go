package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditAction names an audited business event.
type AuditAction string

const (
	AuditIndentCreated    AuditAction = "indent.created"
	AuditIndentSubmitted  AuditAction = "indent.submitted"
	AuditIndentApproved   AuditAction = "indent.approved"
	AuditIndentRejected   AuditAction = "indent.rejected"
	AuditIndentStockedIn  AuditAction = "indent.stocked_in"
	AuditDamageReported   AuditAction = "inventory.damage_reported"
	AuditTransferPosted   AuditAction = "inventory.transfer_posted"
	AuditAdjustmentPosted AuditAction = "inventory.adjustment_posted"
	AuditLedgerRebuilt    AuditAction = "inventory.ledger_rebuilt"
)

// AuditLog is one audit_logs row. Meta is stored as JSONB; decimals serialise as strings.
type AuditLog struct {
	ActorID  int64
	StoreID  int64
	Action   AuditAction
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the mandatory fields.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit: action, entity and entity id are required")
	}
	if l.StoreID <= 0 {
		return errors.New("audit: store required")
	}
	return nil
}

// AuditLogger writes audit_logs rows.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

const insertAudit = `
INSERT INTO audit_logs (actor_id, store_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`

// Record persists one entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	if _, err := l.pool.Exec(ctx, insertAudit, log.ActorID, log.StoreID, string(log.Action), log.Entity, log.EntityID, payload, at); err != nil {
		return fmt.Errorf("audit: insert %s: %w", log.Action, err)
	}
	return nil
}

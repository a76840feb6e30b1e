package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions written by the inventory core.
const (
	AuditMovementPosted    = "inventory.movement.posted"
	AuditMovementReversed  = "inventory.movement.reversed"
	AuditNegativeOverride  = "inventory.negative_override"
	AuditDocumentCanceled  = "inventory.document.canceled"
	AuditBalanceRepaired   = "inventory.balance.repaired"
	AuditQCDispositionPost = "inventory.qc.disposition"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	TenantID   uuid.UUID
	ActorType  ActorType
	ActorID    string
	Action     string
	Entity     string
	EntityID   string
	Meta       map[string]any
	OccurredAt time.Time
}

// Execer is satisfied by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs using whichever connection it is given,
// so records land in the caller's transaction when one is passed.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Validate checks the mandatory audit fields.
func (log AuditLog) Validate() error {
	if log.TenantID == uuid.Nil {
		return ErrTenantRequired
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if log.ActorType == "" {
		log.ActorType = ActorSystem
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.OccurredAt.IsZero() {
		at = log.OccurredAt
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (tenant_id, actor_type, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`, log.TenantID, string(log.ActorType), log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Actor is the audit identity attached to a mutation.
type Actor struct {
	Name string
	At   time.Time
}

// NewActor stamps the acting principal with the current UTC time.
func NewActor(name string) Actor {
	return Actor{Name: name, At: time.Now().UTC()}
}

// Audit holds the creator/updater metadata carried by every entity.
type Audit struct {
	CreateDate time.Time `json:"create_date"`
	CreatedBy  string    `json:"created_by"`
	UpdateDate time.Time `json:"update_date"`
	UpdatedBy  string    `json:"updated_by"`
}

// CreatedBy returns audit fields for a freshly created entity.
func CreatedBy(actor Actor) Audit {
	return Audit{CreateDate: actor.At, CreatedBy: actor.Name, UpdateDate: actor.At, UpdatedBy: actor.Name}
}

// Touch stamps the update fields.
func (a *Audit) Touch(actor Actor) {
	a.UpdateDate = actor.At
	a.UpdatedBy = actor.Name
}

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

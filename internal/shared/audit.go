package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a single audit trail record.
type AuditLog struct {
	ID       int64
	TenantID int64
	Entity   string
	RefID    uuid.UUID
	ActorID  int64
	Action   string
	Note     string
	At       time.Time
}

// AuditRecorder persists audit history for engine actions (approval
// decisions, transfers, payroll run lifecycle events).
type AuditRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditRecorder constructs AuditRecorder.
func NewAuditRecorder(pool *pgxpool.Pool, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{pool: pool, logger: logger}
}

// Record writes an audit entry to the database.
func (r *AuditRecorder) Record(ctx context.Context, log AuditLog) error {
	if r == nil {
		return errors.New("audit recorder not initialised")
	}
	if log.TenantID == 0 {
		return errors.New("audit tenant required")
	}
	if log.Entity == "" {
		return errors.New("audit entity required")
	}
	if log.Action == "" {
		return errors.New("audit action required")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO audit_logs (tenant_id, entity, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7, '0001-01-01'::timestamptz), NOW()))`,
		log.TenantID, log.Entity, log.RefID, log.ActorID, log.Action, log.Note, log.At)
	if err != nil {
		r.logger.Error("record audit", slog.Any("error", err))
		return err
	}
	return nil
}

// RecordApproval writes an approval-trail entry.
func (r *AuditRecorder) RecordApproval(ctx context.Context, tenantID int64, ref uuid.UUID, actorID int64, action, note string) error {
	return r.Record(ctx, AuditLog{
		TenantID: tenantID,
		Entity:   "approval_requests",
		RefID:    ref,
		ActorID:  actorID,
		Action:   action,
		Note:     note,
	})
}

// List returns audit entries for an entity/ref, oldest first.
func (r *AuditRecorder) List(ctx context.Context, tenantID int64, entity string, ref uuid.UUID) ([]AuditLog, error) {
	if r == nil {
		return nil, errors.New("audit recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, entity, ref_id, actor_id, action, note, at
FROM audit_logs WHERE tenant_id=$1 AND entity=$2 AND ref_id=$3 ORDER BY at ASC`, tenantID, entity, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []AuditLog
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Entity, &l.RefID, &l.ActorID, &l.Action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

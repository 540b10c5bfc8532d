package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ListFilter narrows request listings.
type ListFilter struct {
	Status Status
	Kind   Kind
	Limit  int
	Offset int
}

type Repository interface {
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, tenantID int64, id uuid.UUID) (*Request, error)
	Finalize(ctx context.Context, tenantID int64, id uuid.UUID, status Status, approverID int64, observations string, decidedAt time.Time) error
	Transfer(ctx context.Context, tenantID int64, id uuid.UUID, newApproverID int64, at time.Time) error
	List(ctx context.Context, tenantID int64, filter ListFilter) ([]Request, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const requestColumns = `id, tenant_id, kind, ref_id, level, status, requester_id,
	approver_id, observations, created_at, decided_at, transferred_at, transferred_to`

func (r *repository) Create(ctx context.Context, req Request) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO approval_requests (id, tenant_id, kind, ref_id, level, status, requester_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.TenantID, string(req.Kind), req.RefID, req.Level, string(req.Status), req.RequesterID)
	if err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, tenantID int64, id uuid.UUID) (*Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+`
		FROM approval_requests WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// Finalize moves a pending row to a terminal status. The pending guard is
// the concurrency control: of two racing calls exactly one updates a row.
func (r *repository) Finalize(ctx context.Context, tenantID int64, id uuid.UUID, status Status, approverID int64, observations string, decidedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE approval_requests
		SET status = $3, approver_id = $4, observations = $5, decided_at = $6
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'`,
		tenantID, id, string(status), approverID, observations, decidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// Transfer reassigns the approver of a pending row without touching status
// or level.
func (r *repository) Transfer(ctx context.Context, tenantID int64, id uuid.UUID, newApproverID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE approval_requests
		SET approver_id = $3, transferred_to = $3, transferred_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'`,
		tenantID, id, newApproverID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

func (r *repository) List(ctx context.Context, tenantID int64, filter ListFilter) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE tenant_id = $1`
	args := []any{tenantID}
	argPos := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(filter.Status))
		argPos++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argPos)
		args = append(args, string(filter.Kind))
		argPos++
	}
	// Oldest first so stale requests surface at the top of queues.
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		req                      Request
		kind, status             string
		approverID, transferred  pgtype.Int8
		decidedAt, transferredAt pgtype.Timestamptz
	)
	err := row.Scan(&req.ID, &req.TenantID, &kind, &req.RefID, &req.Level, &status,
		&req.RequesterID, &approverID, &req.Observations, &req.CreatedAt,
		&decidedAt, &transferredAt, &transferred)
	if err != nil {
		return nil, err
	}
	req.Kind = Kind(kind)
	req.Status = Status(status)
	if approverID.Valid {
		req.ApproverID = &approverID.Int64
	}
	if transferred.Valid {
		req.TransferredTo = &transferred.Int64
	}
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	if transferredAt.Valid {
		req.TransferredAt = &transferredAt.Time
	}
	return &req, nil
}

package timebank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repository interface {
	Create(ctx context.Context, e Entry) error
	Get(ctx context.Context, tenantID int64, id uuid.UUID) (*Entry, error)
	ListForEmployee(ctx context.Context, tenantID, employeeID int64) ([]Entry, error)
	Balance(ctx context.Context, tenantID, employeeID int64, asOf time.Time) (decimal.Decimal, error)
	Finalize(ctx context.Context, tenantID int64, id uuid.UUID, status EntryStatus) error
	DenyPendingCredits(ctx context.Context, tenantID, employeeID int64, date time.Time) (int64, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const entryColumns = `id, tenant_id, employee_id, entry_date, hours, entry_type, status, expires_at, created_at`

func (r *repository) Create(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO time_bank_entries (id, tenant_id, employee_id, entry_date, hours, entry_type, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TenantID, e.EmployeeID, e.EntryDate, e.Hours.String(),
		string(e.Type), string(e.Status), e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create time bank entry: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, tenantID int64, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+`
		FROM time_bank_entries WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *repository) ListForEmployee(ctx context.Context, tenantID, employeeID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+`
		FROM time_bank_entries WHERE tenant_id = $1 AND employee_id = $2
		ORDER BY entry_date ASC, created_at ASC`, tenantID, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Balance sums approved, unexpired entries. Expired rows are excluded by
// status, so forward-dating an expiration after the sweep changes nothing.
func (r *repository) Balance(ctx context.Context, tenantID, employeeID int64, asOf time.Time) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(hours), 0)
		FROM time_bank_entries
		WHERE tenant_id = $1 AND employee_id = $2 AND status = 'approved'
		  AND (expires_at IS NULL OR expires_at > $3)`,
		tenantID, employeeID, asOf).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return numericToDecimal(sum), nil
}

// Finalize moves a pending entry to a terminal-ish status. The pending guard
// ensures two racers see exactly one success.
func (r *repository) Finalize(ctx context.Context, tenantID int64, id uuid.UUID, status EntryStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE time_bank_entries SET status = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'`,
		tenantID, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryFinalized
	}
	return nil
}

// DenyPendingCredits denies every pending positive credit for one
// employee-day. Used when an approved correction re-splits the day and the
// old banked surplus no longer matches the punches.
func (r *repository) DenyPendingCredits(ctx context.Context, tenantID, employeeID int64, date time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE time_bank_entries SET status = 'denied'
		WHERE tenant_id = $1 AND employee_id = $2 AND entry_date = $3
		  AND status = 'pending' AND hours > 0`,
		tenantID, employeeID, date)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExpireDue flips approved credits past their expiration to expired. One-way.
func (r *repository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE time_bank_entries SET status = 'expired'
		WHERE status = 'approved' AND hours > 0 AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                 Entry
		hours             pgtype.Numeric
		entryType, status string
		expiresAt         pgtype.Timestamptz
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.EmployeeID, &e.EntryDate, &hours,
		&entryType, &status, &expiresAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Hours = numericToDecimal(hours)
	e.Type = EntryType(entryType)
	e.Status = EntryStatus(status)
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	return &e, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

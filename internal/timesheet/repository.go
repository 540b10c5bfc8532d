package timesheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetRecord(ctx context.Context, tenantID int64, id uuid.UUID) (*TimeRecord, error)
	CreateRecord(ctx context.Context, rec TimeRecord) error
	UpdateComputed(ctx context.Context, rec TimeRecord) error
	ReplacePairs(ctx context.Context, tenantID int64, recordID uuid.UUID, pairs []PunchPair, split SplitResult, status RecordStatus) error
	ListForPeriod(ctx context.Context, tenantID, employeeID int64, year, month int) ([]TimeRecord, error)
	LockPeriod(ctx context.Context, tenantID int64, year, month int) (int64, error)
	GetPolicy(ctx context.Context, tenantID int64) (WorkSchedulePolicy, error)
	UpsertPolicy(ctx context.Context, p WorkSchedulePolicy) error
	CreateCorrection(ctx context.Context, c AttendanceCorrection) error
	GetCorrection(ctx context.Context, tenantID int64, id uuid.UUID) (*AttendanceCorrection, error)
	FinalizeCorrection(ctx context.Context, tenantID int64, id uuid.UUID, status CorrectionStatus) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const recordColumns = `id, tenant_id, employee_id, record_date, pairs, worked, overtime50,
	overtime100, absence, incomplete, status, locked, created_at, updated_at`

func (r *repository) GetRecord(ctx context.Context, tenantID int64, id uuid.UUID) (*TimeRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+`
		FROM time_records WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *repository) CreateRecord(ctx context.Context, rec TimeRecord) error {
	pairs, err := json.Marshal(rec.Pairs)
	if err != nil {
		return fmt.Errorf("marshal pairs: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO time_records (id, tenant_id, employee_id, record_date, pairs, worked,
			overtime50, overtime100, absence, incomplete, status, locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)`,
		rec.ID, rec.TenantID, rec.EmployeeID, rec.Date, pairs,
		rec.Worked.String(), rec.Overtime50.String(), rec.Overtime100.String(),
		rec.Absence.String(), rec.Incomplete, string(rec.Status))
	if err != nil {
		return fmt.Errorf("create time record: %w", err)
	}
	return nil
}

func (r *repository) UpdateComputed(ctx context.Context, rec TimeRecord) error {
	tag, err := r.pool.Exec(ctx, `UPDATE time_records
		SET worked = $3, overtime50 = $4, overtime100 = $5, absence = $6,
		    incomplete = $7, status = $8, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND NOT locked`,
		rec.TenantID, rec.ID, rec.Worked.String(), rec.Overtime50.String(),
		rec.Overtime100.String(), rec.Absence.String(), rec.Incomplete, string(rec.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lockedOrMissing(ctx, r.pool, rec.TenantID, rec.ID)
	}
	return nil
}

func (r *repository) ReplacePairs(ctx context.Context, tenantID int64, recordID uuid.UUID, pairs []PunchPair, split SplitResult, status RecordStatus) error {
	encoded, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("marshal pairs: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE time_records
		SET pairs = $3, worked = $4, overtime50 = $5, overtime100 = $6, absence = $7,
		    incomplete = $8, status = $9, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND NOT locked`,
		tenantID, recordID, encoded, split.Worked.String(), split.Overtime50.String(),
		split.Overtime100.String(), split.Absence.String(), split.Incomplete, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lockedOrMissing(ctx, r.pool, tenantID, recordID)
	}
	return nil
}

func (r *repository) ListForPeriod(ctx context.Context, tenantID, employeeID int64, year, month int) ([]TimeRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+`
		FROM time_records
		WHERE tenant_id = $1 AND employee_id = $2
		  AND EXTRACT(YEAR FROM record_date) = $3 AND EXTRACT(MONTH FROM record_date) = $4
		ORDER BY record_date ASC`, tenantID, employeeID, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// LockPeriod freezes every record of the month after a payroll run closes.
func (r *repository) LockPeriod(ctx context.Context, tenantID int64, year, month int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE time_records SET locked = true, updated_at = NOW()
		WHERE tenant_id = $1
		  AND EXTRACT(YEAR FROM record_date) = $2 AND EXTRACT(MONTH FROM record_date) = $3
		  AND NOT locked`, tenantID, year, month)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) GetPolicy(ctx context.Context, tenantID int64) (WorkSchedulePolicy, error) {
	var (
		p         WorkSchedulePolicy
		threshold pgtype.Numeric
	)
	err := r.pool.QueryRow(ctx, `SELECT tenant_id, bank_threshold_hours, credit_expiry_months
		FROM work_schedule_policies WHERE tenant_id = $1`, tenantID,
	).Scan(&p.TenantID, &threshold, &p.CreditExpiryMonths)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkSchedulePolicy{}, ErrNotFound
		}
		return WorkSchedulePolicy{}, err
	}
	p.BankThresholdHours = numericToDecimal(threshold)
	return p, nil
}

func (r *repository) UpsertPolicy(ctx context.Context, p WorkSchedulePolicy) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO work_schedule_policies (tenant_id, bank_threshold_hours, credit_expiry_months)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			bank_threshold_hours = EXCLUDED.bank_threshold_hours,
			credit_expiry_months = EXCLUDED.credit_expiry_months`,
		p.TenantID, p.BankThresholdHours.String(), p.CreditExpiryMonths)
	return err
}

func (r *repository) CreateCorrection(ctx context.Context, c AttendanceCorrection) error {
	original, err := json.Marshal(c.OriginalPairs)
	if err != nil {
		return fmt.Errorf("marshal original pairs: %w", err)
	}
	corrected, err := json.Marshal(c.CorrectedPairs)
	if err != nil {
		return fmt.Errorf("marshal corrected pairs: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO attendance_corrections (id, tenant_id, employee_id, record_id,
			original_pairs, corrected_pairs, justification, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.TenantID, c.EmployeeID, c.RecordID, original, corrected,
		c.Justification, string(c.Status))
	if err != nil {
		return fmt.Errorf("create correction: %w", err)
	}
	return nil
}

func (r *repository) GetCorrection(ctx context.Context, tenantID int64, id uuid.UUID) (*AttendanceCorrection, error) {
	var (
		c                   AttendanceCorrection
		original, corrected []byte
		status              string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, employee_id, record_id,
			original_pairs, corrected_pairs, justification, status, created_at
		FROM attendance_corrections WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&c.ID, &c.TenantID, &c.EmployeeID, &c.RecordID, &original, &corrected,
		&c.Justification, &status, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Status = CorrectionStatus(status)
	if err := json.Unmarshal(original, &c.OriginalPairs); err != nil {
		return nil, fmt.Errorf("unmarshal original pairs: %w", err)
	}
	if err := json.Unmarshal(corrected, &c.CorrectedPairs); err != nil {
		return nil, fmt.Errorf("unmarshal corrected pairs: %w", err)
	}
	return &c, nil
}

// FinalizeCorrection moves a pending correction to a terminal status. The
// status guard makes concurrent finalizations yield exactly one winner.
func (r *repository) FinalizeCorrection(ctx context.Context, tenantID int64, id uuid.UUID, status CorrectionStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE attendance_corrections SET status = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'`,
		tenantID, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCorrectionFinalized
	}
	return nil
}

func lockedOrMissing(ctx context.Context, pool *pgxpool.Pool, tenantID int64, id uuid.UUID) error {
	var locked bool
	err := pool.QueryRow(ctx, `SELECT locked FROM time_records WHERE tenant_id = $1 AND id = $2`,
		tenantID, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if locked {
		return ErrRecordLocked
	}
	return ErrNotFound
}

func scanRecord(row pgx.Row) (*TimeRecord, error) {
	var (
		rec                     TimeRecord
		pairs                   []byte
		worked, ot50, ot100, ab pgtype.Numeric
		status                  string
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.EmployeeID, &rec.Date, &pairs,
		&worked, &ot50, &ot100, &ab, &rec.Incomplete, &status, &rec.Locked,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = RecordStatus(status)
	rec.Worked = numericToDecimal(worked)
	rec.Overtime50 = numericToDecimal(ot50)
	rec.Overtime100 = numericToDecimal(ot100)
	rec.Absence = numericToDecimal(ab)
	if err := json.Unmarshal(pairs, &rec.Pairs); err != nil {
		return nil, fmt.Errorf("unmarshal pairs: %w", err)
	}
	return &rec, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

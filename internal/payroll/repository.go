package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/shared"
)

type Repository interface {
	ListRubricas(ctx context.Context, tenantID int64) ([]Rubrica, error)
	GetRubrica(ctx context.Context, tenantID int64, code string) (*Rubrica, error)
	CreateRubrica(ctx context.Context, r Rubrica) (int64, error)
	UpdateRubrica(ctx context.Context, r Rubrica) error
	DeactivateRubrica(ctx context.Context, tenantID int64, code string) error

	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, tenantID int64, id uuid.UUID) (*Run, error)
	ActiveRunForPeriod(ctx context.Context, tenantID int64, period shared.Period) (*Run, error)
	MarkRunning(ctx context.Context, id uuid.UUID, total int, at time.Time) error
	AdvanceRun(ctx context.Context, id uuid.UUID, processed int) error
	FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, runErr string, at time.Time) error

	SavePayroll(ctx context.Context, tx pgx.Tx, p Payroll, events []EvalLine) error
	DeletePayrollsForRun(ctx context.Context, tenantID int64, runID uuid.UUID, employeeID int64) error
	GetPayslip(ctx context.Context, tenantID, employeeID int64, period shared.Period) (*Payroll, []PayrollEvent, error)
	ClosePayrolls(ctx context.Context, tenantID int64, runID uuid.UUID) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const rubricaColumns = `id, tenant_id, code, name, kind, nature, amount, percent,
	base_ref, inc_income_tax, inc_social_security, inc_severance_fund, inc_union_dues,
	display_order, active, created_at, updated_at`

func (r *repository) ListRubricas(ctx context.Context, tenantID int64) ([]Rubrica, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+rubricaColumns+`
		FROM rubricas
		WHERE tenant_id = $1
		ORDER BY display_order ASC, code ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rubrica
	for rows.Next() {
		rb, err := scanRubrica(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rb)
	}
	return out, rows.Err()
}

func (r *repository) GetRubrica(ctx context.Context, tenantID int64, code string) (*Rubrica, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+rubricaColumns+`
		FROM rubricas
		WHERE tenant_id = $1 AND code = $2`, tenantID, code)
	rb, err := scanRubrica(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rb, nil
}

func (r *repository) CreateRubrica(ctx context.Context, rb Rubrica) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rubricas (tenant_id, code, name, kind, nature, amount, percent, base_ref,
		       inc_income_tax, inc_social_security, inc_severance_fund, inc_union_dues,
		       display_order, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		rb.TenantID, rb.Code, rb.Name, string(rb.Kind), string(rb.Nature),
		decimalArg(rb.Amount), decimalArg(rb.Percent), rb.BaseRef,
		rb.Incidence.IncomeTax, rb.Incidence.SocialSecurity, rb.Incidence.SeveranceFund,
		rb.Incidence.UnionDues, rb.DisplayOrder, rb.Active,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateCode
		}
		return 0, fmt.Errorf("create rubrica: %w", err)
	}
	return id, nil
}

// UpdateRubrica refuses changes once any closed payroll references the code.
func (r *repository) UpdateRubrica(ctx context.Context, rb Rubrica) error {
	var closed bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payroll_events e
			JOIN payrolls p ON p.id = e.payroll_id
			WHERE p.tenant_id = $1 AND e.rubrica_code = $2 AND p.status = $3
		)`, rb.TenantID, rb.Code, PayrollStatusClosed).Scan(&closed)
	if err != nil {
		return fmt.Errorf("check rubrica references: %w", err)
	}
	if closed {
		return fmt.Errorf("%w: %s", ErrRubricaImmutable, rb.Code)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE rubricas
		SET name = $3, kind = $4, nature = $5, amount = $6, percent = $7, base_ref = $8,
		    inc_income_tax = $9, inc_social_security = $10, inc_severance_fund = $11,
		    inc_union_dues = $12, display_order = $13, active = $14, updated_at = now()
		WHERE tenant_id = $1 AND code = $2`,
		rb.TenantID, rb.Code, rb.Name, string(rb.Kind), string(rb.Nature),
		decimalArg(rb.Amount), decimalArg(rb.Percent), rb.BaseRef,
		rb.Incidence.IncomeTax, rb.Incidence.SocialSecurity, rb.Incidence.SeveranceFund,
		rb.Incidence.UnionDues, rb.DisplayOrder, rb.Active)
	if err != nil {
		return fmt.Errorf("update rubrica: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) DeactivateRubrica(ctx context.Context, tenantID int64, code string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rubricas SET active = false, updated_at = now()
		WHERE tenant_id = $1 AND code = $2`, tenantID, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) CreateRun(ctx context.Context, run Run) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payroll_runs (id, tenant_id, year, month, run_type, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.TenantID, run.Period.Year, run.Period.Month, run.RunType, string(run.Status))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (r *repository) GetRun(ctx context.Context, tenantID int64, id uuid.UUID) (*Run, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, year, month, run_type, status, total, processed,
		       error, started_at, finished_at, created_at
		FROM payroll_runs
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *repository) ActiveRunForPeriod(ctx context.Context, tenantID int64, period shared.Period) (*Run, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, year, month, run_type, status, total, processed,
		       error, started_at, finished_at, created_at
		FROM payroll_runs
		WHERE tenant_id = $1 AND year = $2 AND month = $3 AND status IN ($4, $5)
		ORDER BY created_at DESC
		LIMIT 1`, tenantID, period.Year, period.Month, string(RunQueued), string(RunRunning))
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// MarkRunning transitions queued -> running. The status guard keeps a
// duplicate task delivery from restarting a finished run.
func (r *repository) MarkRunning(ctx context.Context, id uuid.UUID, total int, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payroll_runs
		SET status = $2, total = $3, started_at = $4
		WHERE id = $1 AND status = $5`,
		id, string(RunRunning), total, at, string(RunQueued))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflict
	}
	return nil
}

func (r *repository) AdvanceRun(ctx context.Context, id uuid.UUID, processed int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payroll_runs SET processed = $2 WHERE id = $1 AND status = $3`,
		id, processed, string(RunRunning))
	return err
}

func (r *repository) FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, runErr string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payroll_runs
		SET status = $2, error = $3, finished_at = $4
		WHERE id = $1 AND status IN ($5, $6)`,
		id, string(status), runErr, at, string(RunQueued), string(RunRunning))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflict
	}
	return nil
}

// SavePayroll writes the header and its line items inside the caller's
// transaction so a failing employee leaves no rows behind.
func (r *repository) SavePayroll(ctx context.Context, tx pgx.Tx, p Payroll, events []EvalLine) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payrolls (id, tenant_id, run_id, employee_id, year, month,
		       gross, deductions, net, status, warnings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.TenantID, p.RunID, p.EmployeeID, p.Period.Year, p.Period.Month,
		p.Gross.String(), p.Deductions.String(), p.Net.String(), p.Status, p.Warnings)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrConflict
		}
		return fmt.Errorf("save payroll: %w", err)
	}

	for _, ev := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO payroll_events (payroll_id, rubrica_code, rubrica_name, kind, amount, display_order)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, ev.Code, ev.Name, string(ev.Kind), ev.Amount.String(), ev.Order)
		if err != nil {
			return fmt.Errorf("save payroll event %s: %w", ev.Code, err)
		}
	}
	return nil
}

func (r *repository) DeletePayrollsForRun(ctx context.Context, tenantID int64, runID uuid.UUID, employeeID int64) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM payrolls
		WHERE tenant_id = $1 AND run_id = $2 AND employee_id = $3`,
		tenantID, runID, employeeID)
	return err
}

func (r *repository) GetPayslip(ctx context.Context, tenantID, employeeID int64, period shared.Period) (*Payroll, []PayrollEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, run_id, employee_id, year, month, gross, deductions,
		       net, status, warnings, created_at
		FROM payrolls
		WHERE tenant_id = $1 AND employee_id = $2 AND year = $3 AND month = $4
		ORDER BY created_at DESC
		LIMIT 1`, tenantID, employeeID, period.Year, period.Month)

	p, err := scanPayroll(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, payroll_id, rubrica_code, rubrica_name, kind, amount, display_order
		FROM payroll_events
		WHERE payroll_id = $1
		ORDER BY display_order ASC`, p.ID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var events []PayrollEvent
	for rows.Next() {
		var (
			ev     PayrollEvent
			kind   string
			amount pgtype.Numeric
		)
		if err := rows.Scan(&ev.ID, &ev.PayrollID, &ev.RubricaCode, &ev.RubricaName,
			&kind, &amount, &ev.Order); err != nil {
			return nil, nil, err
		}
		ev.Kind = RubricaKind(kind)
		ev.Amount = numericToDecimal(amount)
		events = append(events, ev)
	}
	return p, events, rows.Err()
}

func (r *repository) ClosePayrolls(ctx context.Context, tenantID int64, runID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payrolls SET status = $3
		WHERE tenant_id = $1 AND run_id = $2 AND status = $4`,
		tenantID, runID, PayrollStatusClosed, PayrollStatusCalculated)
	return err
}

func scanRubrica(row pgx.Row) (Rubrica, error) {
	var (
		rb           Rubrica
		kind, nature string
		amount       pgtype.Numeric
		percent      pgtype.Numeric
	)
	err := row.Scan(&rb.ID, &rb.TenantID, &rb.Code, &rb.Name, &kind, &nature,
		&amount, &percent, &rb.BaseRef, &rb.Incidence.IncomeTax,
		&rb.Incidence.SocialSecurity, &rb.Incidence.SeveranceFund,
		&rb.Incidence.UnionDues, &rb.DisplayOrder, &rb.Active, &rb.CreatedAt, &rb.UpdatedAt)
	if err != nil {
		return Rubrica{}, err
	}
	rb.Kind = RubricaKind(kind)
	rb.Nature = RubricaNature(nature)
	if amount.Valid {
		v := numericToDecimal(amount)
		rb.Amount = &v
	}
	if percent.Valid {
		v := numericToDecimal(percent)
		rb.Percent = &v
	}
	return rb, nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run    Run
		status string
	)
	err := row.Scan(&run.ID, &run.TenantID, &run.Period.Year, &run.Period.Month,
		&run.RunType, &status, &run.Total, &run.Processed, &run.Error,
		&run.StartedAt, &run.FinishedAt, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	return &run, nil
}

func scanPayroll(row pgx.Row) (*Payroll, error) {
	var (
		p                      Payroll
		gross, deductions, net pgtype.Numeric
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.RunID, &p.EmployeeID, &p.Period.Year,
		&p.Period.Month, &gross, &deductions, &net, &p.Status, &p.Warnings, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Gross = numericToDecimal(gross)
	p.Deductions = numericToDecimal(deductions)
	p.Net = numericToDecimal(net)
	return &p, nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

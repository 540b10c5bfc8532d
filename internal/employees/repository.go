package employees

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repository interface {
	Get(ctx context.Context, tenantID, id int64) (*Employee, error)
	ListActive(ctx context.Context, tenantID int64) ([]Employee, error)
	Create(ctx context.Context, e Employee) (int64, error)
	Update(ctx context.Context, e Employee) error
	Deactivate(ctx context.Context, tenantID, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const employeeColumns = `id, tenant_id, registration, name, base_salary, daily_hours,
	admission_date, active, created_at, updated_at`

func (r *repository) Get(ctx context.Context, tenantID, id int64) (*Employee, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+employeeColumns+`
		FROM employees WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	e, err := scanEmployee(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *repository) ListActive(ctx context.Context, tenantID int64) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+employeeColumns+`
		FROM employees WHERE tenant_id = $1 AND active ORDER BY registration ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, e Employee) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO employees (tenant_id, registration, name, base_salary, daily_hours, admission_date, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.TenantID, e.Registration, e.Name, e.BaseSalary.String(), e.DailyHours.String(),
		e.AdmissionDate, e.Active,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateRegistration
		}
		return 0, fmt.Errorf("create employee: %w", err)
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, e Employee) error {
	tag, err := r.pool.Exec(ctx, `UPDATE employees
		SET name = $3, base_salary = $4, daily_hours = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		e.TenantID, e.ID, e.Name, e.BaseSalary.String(), e.DailyHours.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Deactivate(ctx context.Context, tenantID, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE employees SET active = false, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEmployee(row pgx.Row) (*Employee, error) {
	var (
		e                Employee
		salary, dayHours pgtype.Numeric
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.Registration, &e.Name, &salary, &dayHours,
		&e.AdmissionDate, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.BaseSalary = numericToDecimal(salary)
	e.DailyHours = numericToDecimal(dayHours)
	return &e, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

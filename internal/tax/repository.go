package tax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrDuplicateCode indicates a bracket code collision within one table/period.
var ErrDuplicateCode = errors.New("tax: bracket code already exists for period")

type Repository interface {
	ListBrackets(ctx context.Context, tenantID int64, tableType TableType, year, month int) ([]Bracket, error)
	CreateBracket(ctx context.Context, b Bracket) (int64, error)
	SetBracketActive(ctx context.Context, tenantID, id int64, active bool) error
	GetFgts(ctx context.Context, tenantID int64, asOf time.Time) (FgtsConfig, error)
	UpsertFgts(ctx context.Context, cfg FgtsConfig) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) ListBrackets(ctx context.Context, tenantID int64, tableType TableType, year, month int) ([]Bracket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, code, description, table_type, lower_bound, upper_bound,
		       rate, deduction, year, month, active, created_at, updated_at
		FROM tax_brackets
		WHERE tenant_id = $1 AND table_type = $2 AND year = $3 AND month = $4 AND active
		ORDER BY lower_bound ASC`, tenantID, string(tableType), year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brackets []Bracket
	for rows.Next() {
		b, err := scanBracket(rows)
		if err != nil {
			return nil, err
		}
		brackets = append(brackets, b)
	}
	return brackets, rows.Err()
}

func (r *repository) CreateBracket(ctx context.Context, b Bracket) (int64, error) {
	var upper any
	if b.Upper != nil {
		upper = b.Upper.String()
	}
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tax_brackets (tenant_id, code, description, table_type, lower_bound,
		       upper_bound, rate, deduction, year, month, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		b.TenantID, b.Code, b.Description, string(b.TableType), b.Lower.String(), upper,
		b.Rate.String(), b.Deduction.String(), b.Year, b.Month, b.Active,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateCode
		}
		return 0, fmt.Errorf("create bracket: %w", err)
	}
	return id, nil
}

func (r *repository) SetBracketActive(ctx context.Context, tenantID, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tax_brackets SET active = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) GetFgts(ctx context.Context, tenantID int64, asOf time.Time) (FgtsConfig, error) {
	var (
		cfg                 FgtsConfig
		rate, fine, ceiling pgtype.Numeric
		validTo             pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, rate, severance_fine_rate, salary_ceiling, valid_from, valid_to
		FROM fgts_configs
		WHERE tenant_id = $1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to > $2)
		ORDER BY valid_from DESC
		LIMIT 1`, tenantID, asOf,
	).Scan(&cfg.ID, &cfg.TenantID, &rate, &fine, &ceiling, &cfg.ValidFrom, &validTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FgtsConfig{}, ErrNotFound
		}
		return FgtsConfig{}, err
	}
	cfg.Rate = numericToDecimal(rate)
	cfg.SeveranceFineRate = numericToDecimal(fine)
	cfg.SalaryCeiling = numericToDecimal(ceiling)
	if validTo.Valid {
		cfg.ValidTo = &validTo.Time
	}
	return cfg, nil
}

func (r *repository) UpsertFgts(ctx context.Context, cfg FgtsConfig) (int64, error) {
	// Closing the previous window and opening the new one in one tx keeps the
	// validity chain gapless.
	var id int64
	err := r.pool.QueryRow(ctx, `
		WITH closed AS (
			UPDATE fgts_configs SET valid_to = $5
			WHERE tenant_id = $1 AND valid_to IS NULL AND valid_from < $5
		)
		INSERT INTO fgts_configs (tenant_id, rate, severance_fine_rate, salary_ceiling, valid_from)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		cfg.TenantID, cfg.Rate.String(), cfg.SeveranceFineRate.String(),
		cfg.SalaryCeiling.String(), cfg.ValidFrom,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert fgts config: %w", err)
	}
	return id, nil
}

func scanBracket(rows pgx.Rows) (Bracket, error) {
	var (
		b                      Bracket
		tableType              string
		lower, rate, deduction pgtype.Numeric
		upper                  pgtype.Numeric
	)
	err := rows.Scan(&b.ID, &b.TenantID, &b.Code, &b.Description, &tableType, &lower,
		&upper, &rate, &deduction, &b.Year, &b.Month, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Bracket{}, err
	}
	b.TableType = TableType(tableType)
	b.Lower = numericToDecimal(lower)
	b.Rate = numericToDecimal(rate)
	b.Deduction = numericToDecimal(deduction)
	if upper.Valid {
		u := numericToDecimal(upper)
		b.Upper = &u
	}
	return b, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

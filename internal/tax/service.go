package tax

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/shared"
)

// Service exposes bracket resolution scoped to a tenant and period.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// TableFor loads and validates the active bracket set for a period.
// A missing or malformed table is a configuration error: callers must halt
// before touching any employee.
func (s *Service) TableFor(ctx context.Context, tenantID int64, tableType TableType, period shared.Period) ([]Bracket, error) {
	brackets, err := s.repo.ListBrackets(ctx, tenantID, tableType, period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("load %s table %s: %w", tableType, period, err)
	}
	if len(brackets) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoActiveTable, tableType, period)
	}
	if err := ValidateTable(brackets); err != nil {
		return nil, fmt.Errorf("%s table %s: %w", tableType, period, err)
	}
	return brackets, nil
}

// ResolveINSS resolves the cumulative social-security contribution.
func (s *Service) ResolveINSS(ctx context.Context, tenantID int64, base decimal.Decimal, period shared.Period) (Resolution, error) {
	brackets, err := s.TableFor(ctx, tenantID, TableINSS, period)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(base, brackets, true)
}

// ResolveIRRF resolves the marginal income-tax withholding.
func (s *Service) ResolveIRRF(ctx context.Context, tenantID int64, base decimal.Decimal, period shared.Period) (Resolution, error) {
	brackets, err := s.TableFor(ctx, tenantID, TableIRRF, period)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(base, brackets, false)
}

// FgtsFor returns the severance-fund configuration in force for a period.
func (s *Service) FgtsFor(ctx context.Context, tenantID int64, period shared.Period) (FgtsConfig, error) {
	return s.repo.GetFgts(ctx, tenantID, period.Start())
}

// CreateBracket inserts a bracket row and revalidates the resulting table.
func (s *Service) CreateBracket(ctx context.Context, b Bracket) (int64, error) {
	if b.Rate.IsNegative() || b.Lower.IsNegative() {
		return 0, fmt.Errorf("%w: negative rate or bound", ErrNoMatchingBracket)
	}
	id, err := s.repo.CreateBracket(ctx, b)
	if err != nil {
		return 0, err
	}
	brackets, err := s.repo.ListBrackets(ctx, b.TenantID, b.TableType, b.Year, b.Month)
	if err != nil {
		return id, nil
	}
	if err := ValidateTable(brackets); err != nil {
		s.logger.Warn("bracket table invalid after insert",
			slog.String("table", string(b.TableType)),
			slog.Int("year", b.Year), slog.Int("month", b.Month),
			slog.Any("error", err))
	}
	return id, nil
}

// ListBrackets returns the active set for a period.
func (s *Service) ListBrackets(ctx context.Context, tenantID int64, tableType TableType, period shared.Period) ([]Bracket, error) {
	return s.repo.ListBrackets(ctx, tenantID, tableType, period.Year, period.Month)
}

// SetBracketActive toggles a bracket row.
func (s *Service) SetBracketActive(ctx context.Context, tenantID, id int64, active bool) error {
	return s.repo.SetBracketActive(ctx, tenantID, id, active)
}

// UpsertFgts opens a new FGTS validity window from the given date.
func (s *Service) UpsertFgts(ctx context.Context, cfg FgtsConfig) (int64, error) {
	if cfg.ValidFrom.IsZero() {
		cfg.ValidFrom = time.Now().UTC()
	}
	return s.repo.UpsertFgts(ctx, cfg)
}

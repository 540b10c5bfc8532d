package payroll

import (
	"context"
	"log/slog"
	"strings"
)

// Service manages the rubrica catalog and payslip reads. Run execution
// lives on the Orchestrator.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) ListRubricas(ctx context.Context, tenantID int64) ([]Rubrica, error) {
	return s.repo.ListRubricas(ctx, tenantID)
}

func (s *Service) GetRubrica(ctx context.Context, tenantID int64, code string) (*Rubrica, error) {
	return s.repo.GetRubrica(ctx, tenantID, strings.ToUpper(code))
}

func (s *Service) CreateRubrica(ctx context.Context, r Rubrica) (*Rubrica, error) {
	r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
	if r.Nature == "" {
		r.Nature = NatureNormal
	}
	r.Active = true
	id, err := s.repo.CreateRubrica(ctx, r)
	if err != nil {
		return nil, err
	}
	r.ID = id
	s.logger.Info("rubrica created",
		slog.Int64("tenant_id", r.TenantID),
		slog.String("code", r.Code),
		slog.String("kind", string(r.Kind)))
	return &r, nil
}

func (s *Service) UpdateRubrica(ctx context.Context, r Rubrica) error {
	r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
	return s.repo.UpdateRubrica(ctx, r)
}

func (s *Service) DeactivateRubrica(ctx context.Context, tenantID int64, code string) error {
	return s.repo.DeactivateRubrica(ctx, tenantID, strings.ToUpper(code))
}

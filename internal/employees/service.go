package employees

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type CreateEmployeeInput struct {
	TenantID      int64
	Registration  string
	Name          string
	BaseSalary    decimal.Decimal
	DailyHours    decimal.Decimal
	AdmissionDate time.Time
}

func (s *Service) Create(ctx context.Context, input CreateEmployeeInput) (*Employee, error) {
	if input.BaseSalary.IsNegative() {
		return nil, fmt.Errorf("employees: base salary must not be negative")
	}
	if input.DailyHours.IsZero() || input.DailyHours.IsNegative() {
		// Default contractual shift of eight hours.
		input.DailyHours = decimal.NewFromInt(8)
	}
	if input.AdmissionDate.IsZero() {
		input.AdmissionDate = time.Now().UTC()
	}

	e := Employee{
		TenantID:      input.TenantID,
		Registration:  input.Registration,
		Name:          input.Name,
		BaseSalary:    input.BaseSalary,
		DailyHours:    input.DailyHours,
		AdmissionDate: input.AdmissionDate,
		Active:        true,
	}
	id, err := s.repo.Create(ctx, e)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, input.TenantID, id)
}

func (s *Service) Get(ctx context.Context, tenantID, id int64) (*Employee, error) {
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) ListActive(ctx context.Context, tenantID int64) ([]Employee, error) {
	return s.repo.ListActive(ctx, tenantID)
}

func (s *Service) Update(ctx context.Context, e Employee) error {
	if e.BaseSalary.IsNegative() {
		return fmt.Errorf("employees: base salary must not be negative")
	}
	return s.repo.Update(ctx, e)
}

func (s *Service) Deactivate(ctx context.Context, tenantID, id int64) error {
	return s.repo.Deactivate(ctx, tenantID, id)
}

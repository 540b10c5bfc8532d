package timesheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BankCreditor manages the pending time-bank credits backing a day's banked
// overtime share. Implemented by the timebank service.
type BankCreditor interface {
	CreditPending(ctx context.Context, tenantID, employeeID int64, hours decimal.Decimal, date, expiry time.Time) (uuid.UUID, error)
	VoidPendingCredits(ctx context.Context, tenantID, employeeID int64, date time.Time) (int64, error)
}

// ScheduleSource resolves the contractual daily hours for an employee.
type ScheduleSource interface {
	DailyHours(ctx context.Context, tenantID, employeeID int64) (decimal.Decimal, error)
}

// ApprovalSubmitter opens an approval request for a domain object.
type ApprovalSubmitter interface {
	Submit(ctx context.Context, tenantID int64, kind string, ref uuid.UUID, requesterID int64) error
}

type Service struct {
	repo      Repository
	bank      BankCreditor
	schedule  ScheduleSource
	approvals ApprovalSubmitter
	logger    *slog.Logger
}

func NewService(repo Repository, bank BankCreditor, schedule ScheduleSource, approvals ApprovalSubmitter, logger *slog.Logger) *Service {
	return &Service{repo: repo, bank: bank, schedule: schedule, approvals: approvals, logger: logger}
}

// defaultPolicy applies when a tenant never configured a split policy.
var defaultPolicy = WorkSchedulePolicy{
	BankThresholdHours: decimal.NewFromInt(2),
	CreditExpiryMonths: 6,
}

func (s *Service) Policy(ctx context.Context, tenantID int64) (WorkSchedulePolicy, error) {
	p, err := s.repo.GetPolicy(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			p = defaultPolicy
			p.TenantID = tenantID
			return p, nil
		}
		return WorkSchedulePolicy{}, err
	}
	return p, nil
}

func (s *Service) SetPolicy(ctx context.Context, p WorkSchedulePolicy) error {
	if p.BankThresholdHours.IsNegative() {
		return fmt.Errorf("timesheet: bank threshold must not be negative")
	}
	if p.CreditExpiryMonths <= 0 {
		p.CreditExpiryMonths = defaultPolicy.CreditExpiryMonths
	}
	return s.repo.UpsertPolicy(ctx, p)
}

type RegisterRecordInput struct {
	TenantID   int64
	EmployeeID int64
	Date       time.Time
	Pairs      []PunchPair
}

// RegisterRecord stores a day of punches without computing buckets yet.
func (s *Service) RegisterRecord(ctx context.Context, input RegisterRecordInput) (*TimeRecord, error) {
	rec := TimeRecord{
		ID:          uuid.New(),
		TenantID:    input.TenantID,
		EmployeeID:  input.EmployeeID,
		Date:        input.Date,
		Pairs:       input.Pairs,
		Worked:      decimal.Zero,
		Overtime50:  decimal.Zero,
		Overtime100: decimal.Zero,
		Absence:     decimal.Zero,
		Status:      RecordPending,
	}
	if err := s.repo.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FinalizeSplit classifies a record's punches and routes the banked share to
// the time-bank ledger as a pending credit. Invoked when punches for the day
// are final.
func (s *Service) FinalizeSplit(ctx context.Context, tenantID int64, recordID uuid.UUID) (SplitResult, error) {
	rec, err := s.repo.GetRecord(ctx, tenantID, recordID)
	if err != nil {
		return SplitResult{}, err
	}
	if rec.Locked {
		return SplitResult{}, ErrRecordLocked
	}

	scheduled, err := s.schedule.DailyHours(ctx, tenantID, rec.EmployeeID)
	if err != nil {
		return SplitResult{}, fmt.Errorf("resolve schedule: %w", err)
	}
	policy, err := s.Policy(ctx, tenantID)
	if err != nil {
		return SplitResult{}, err
	}

	result := Split(rec.Pairs, scheduled, policy.BankThresholdHours)

	// Only the first finalization banks the surplus; re-invoking the split
	// on an already-finalized record must not credit the same day twice.
	firstSplit := rec.Status == RecordPending

	rec.Worked = result.Worked
	rec.Overtime50 = result.Overtime50
	rec.Overtime100 = result.Overtime100
	rec.Absence = result.Absence
	rec.Incomplete = result.Incomplete
	if rec.Status == RecordPending {
		rec.Status = RecordApproved
	}
	if err := s.repo.UpdateComputed(ctx, *rec); err != nil {
		return SplitResult{}, err
	}

	if firstSplit && result.Overtime50.IsPositive() && s.bank != nil {
		expiry := rec.Date.AddDate(0, policy.CreditExpiryMonths, 0)
		if _, err := s.bank.CreditPending(ctx, tenantID, rec.EmployeeID, result.Overtime50, rec.Date, expiry); err != nil {
			return SplitResult{}, fmt.Errorf("bank overtime credit: %w", err)
		}
	}
	if result.Incomplete {
		s.logger.Warn("time record incomplete",
			slog.String("record_id", recordID.String()),
			slog.Int64("employee_id", rec.EmployeeID))
	}
	return result, nil
}

// Record returns one record.
func (s *Service) Record(ctx context.Context, tenantID int64, id uuid.UUID) (*TimeRecord, error) {
	return s.repo.GetRecord(ctx, tenantID, id)
}

// RecordsForPeriod returns the employee's records for a competence month.
func (s *Service) RecordsForPeriod(ctx context.Context, tenantID, employeeID int64, year, month int) ([]TimeRecord, error) {
	return s.repo.ListForPeriod(ctx, tenantID, employeeID, year, month)
}

// LockPeriod freezes all records of the month; called when a payroll run closes.
func (s *Service) LockPeriod(ctx context.Context, tenantID int64, year, month int) error {
	n, err := s.repo.LockPeriod(ctx, tenantID, year, month)
	if err != nil {
		return err
	}
	s.logger.Info("time records locked",
		slog.Int64("tenant_id", tenantID),
		slog.Int("year", year), slog.Int("month", month),
		slog.Int64("records", n))
	return nil
}

type SubmitCorrectionInput struct {
	TenantID       int64
	RequesterID    int64
	RecordID       uuid.UUID
	CorrectedPairs []PunchPair
	Justification  string
}

// SubmitCorrection stores a correction proposal and opens its approval request.
func (s *Service) SubmitCorrection(ctx context.Context, input SubmitCorrectionInput) (*AttendanceCorrection, error) {
	if input.Justification == "" {
		return nil, fmt.Errorf("timesheet: justification is required")
	}
	rec, err := s.repo.GetRecord(ctx, input.TenantID, input.RecordID)
	if err != nil {
		return nil, err
	}
	if rec.Locked {
		return nil, ErrRecordLocked
	}

	c := AttendanceCorrection{
		ID:             uuid.New(),
		TenantID:       input.TenantID,
		EmployeeID:     rec.EmployeeID,
		RecordID:       rec.ID,
		OriginalPairs:  rec.Pairs,
		CorrectedPairs: input.CorrectedPairs,
		Justification:  input.Justification,
		Status:         CorrectionPending,
	}
	if err := s.repo.CreateCorrection(ctx, c); err != nil {
		return nil, err
	}
	if s.approvals != nil {
		if err := s.approvals.Submit(ctx, input.TenantID, "correction", c.ID, input.RequesterID); err != nil {
			return nil, fmt.Errorf("open approval: %w", err)
		}
	}
	return &c, nil
}

// ApplyCorrection is the approval side effect: replace the record's pairs
// with the corrected ones and re-split. Finalizing the correction row first
// makes the effect idempotent under re-invocation.
func (s *Service) ApplyCorrection(ctx context.Context, tenantID int64, correctionID uuid.UUID) error {
	c, err := s.repo.GetCorrection(ctx, tenantID, correctionID)
	if err != nil {
		return err
	}
	if err := s.repo.FinalizeCorrection(ctx, tenantID, correctionID, CorrectionApproved); err != nil {
		if errors.Is(err, ErrCorrectionFinalized) && c.Status == CorrectionApproved {
			return nil // already applied
		}
		return err
	}

	rec, err := s.repo.GetRecord(ctx, tenantID, c.RecordID)
	if err != nil {
		return err
	}
	scheduled, err := s.schedule.DailyHours(ctx, tenantID, rec.EmployeeID)
	if err != nil {
		return fmt.Errorf("resolve schedule: %w", err)
	}
	policy, err := s.Policy(ctx, tenantID)
	if err != nil {
		return err
	}
	result := Split(c.CorrectedPairs, scheduled, policy.BankThresholdHours)
	if err := s.repo.ReplacePairs(ctx, tenantID, c.RecordID, c.CorrectedPairs, result, RecordCorrected); err != nil {
		return err
	}

	// The ledger must follow the corrected punches: void the credits banked
	// from the pre-correction split, then bank the recomputed surplus.
	if s.bank != nil {
		if _, err := s.bank.VoidPendingCredits(ctx, tenantID, rec.EmployeeID, rec.Date); err != nil {
			return fmt.Errorf("void stale credits: %w", err)
		}
		if result.Overtime50.IsPositive() {
			expiry := rec.Date.AddDate(0, policy.CreditExpiryMonths, 0)
			if _, err := s.bank.CreditPending(ctx, tenantID, rec.EmployeeID, result.Overtime50, rec.Date, expiry); err != nil {
				return fmt.Errorf("bank corrected credit: %w", err)
			}
		}
	}
	return nil
}

// RejectCorrection is the reject side effect for correction requests.
func (s *Service) RejectCorrection(ctx context.Context, tenantID int64, correctionID uuid.UUID) error {
	err := s.repo.FinalizeCorrection(ctx, tenantID, correctionID, CorrectionRejected)
	if errors.Is(err, ErrCorrectionFinalized) {
		return nil
	}
	return err
}

package timebank

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/shared"
)

// Submitter opens an approval request for a ledger entry.
type Submitter interface {
	Submit(ctx context.Context, tenantID int64, kind string, ref uuid.UUID, requesterID int64) error
}

// releaseScript deletes the lock only when still held by this caller.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Service is the time-bank ledger. Balance reads paired with debits are
// serialised per employee through a redis lease so two concurrent debits can
// never both pass the balance check.
type Service struct {
	repo      Repository
	rdb       *redis.Client
	approvals Submitter
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, rdb *redis.Client, approvals Submitter, lockTTL time.Duration, logger *slog.Logger) *Service {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Service{
		repo:      repo,
		rdb:       rdb,
		approvals: approvals,
		lockTTL:   lockTTL,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) withEmployeeLock(ctx context.Context, tenantID, employeeID int64, fn func() error) error {
	key := shared.TimeBankLockKey(tenantID, employeeID)
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire employee lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: employee %d ledger busy", shared.ErrConflict, employeeID)
	}
	defer func() {
		if _, err := releaseScript.Run(ctx, s.rdb, []string{key}, token).Result(); err != nil {
			s.logger.Warn("release employee lock", slog.Any("error", err))
		}
	}()
	return fn()
}

// CreditPending records a pending overtime credit. It counts toward nothing
// until the approval workflow accepts it.
func (s *Service) CreditPending(ctx context.Context, tenantID, employeeID int64, hours decimal.Decimal, date, expiry time.Time) (uuid.UUID, error) {
	if !hours.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: credit must be positive, got %s", ErrInvalidHours, hours)
	}
	e := Entry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EmployeeID: employeeID,
		EntryDate:  date,
		Hours:      hours,
		Type:       EntryOvertime,
		Status:     StatusPending,
		ExpiresAt:  &expiry,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return uuid.Nil, err
	}
	if s.approvals != nil {
		if err := s.approvals.Submit(ctx, tenantID, "overtime", e.ID, employeeID); err != nil {
			return uuid.Nil, fmt.Errorf("open approval: %w", err)
		}
	}
	return e.ID, nil
}

type DebitInput struct {
	TenantID    int64
	EmployeeID  int64
	RequesterID int64
	Hours       decimal.Decimal
	Date        time.Time
	Type        EntryType
}

// RequestDebit records a pending debit and opens its approval request. The
// balance is only committed at approval time, under the employee lock.
func (s *Service) RequestDebit(ctx context.Context, input DebitInput) (*Entry, error) {
	if !input.Hours.IsPositive() {
		return nil, fmt.Errorf("%w: debit must be positive, got %s", ErrInvalidHours, input.Hours)
	}
	if input.Type == "" {
		input.Type = EntryCompensatory
	}
	e := Entry{
		ID:         uuid.New(),
		TenantID:   input.TenantID,
		EmployeeID: input.EmployeeID,
		EntryDate:  input.Date,
		Hours:      input.Hours.Neg(),
		Type:       input.Type,
		Status:     StatusPending,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	if s.approvals != nil {
		if err := s.approvals.Submit(ctx, input.TenantID, "compensation", e.ID, input.RequesterID); err != nil {
			return nil, fmt.Errorf("open approval: %w", err)
		}
	}
	return &e, nil
}

// Balance returns the employee's usable hours as of a date.
func (s *Service) Balance(ctx context.Context, tenantID, employeeID int64, asOf time.Time) (decimal.Decimal, error) {
	return s.repo.Balance(ctx, tenantID, employeeID, asOf)
}

// Entries returns the full ledger for an employee.
func (s *Service) Entries(ctx context.Context, tenantID, employeeID int64) ([]Entry, error) {
	return s.repo.ListForEmployee(ctx, tenantID, employeeID)
}

// ApproveEntry is the approval side effect for ledger entries. Credits flip
// straight to approved. Debits re-check the balance under the per-employee
// lock; an uncovered debit is denied and reported.
func (s *Service) ApproveEntry(ctx context.Context, tenantID int64, entryID uuid.UUID) error {
	e, err := s.repo.Get(ctx, tenantID, entryID)
	if err != nil {
		return err
	}
	if e.Status != StatusPending {
		if e.Status == StatusApproved {
			return nil // effect already applied
		}
		return ErrEntryFinalized
	}

	if e.Hours.IsPositive() {
		err := s.repo.Finalize(ctx, tenantID, entryID, StatusApproved)
		if err == ErrEntryFinalized {
			return nil
		}
		return err
	}

	return s.withEmployeeLock(ctx, tenantID, e.EmployeeID, func() error {
		balance, err := s.repo.Balance(ctx, tenantID, e.EmployeeID, e.EntryDate)
		if err != nil {
			return err
		}
		if balance.Add(e.Hours).IsNegative() {
			if err := s.repo.Finalize(ctx, tenantID, entryID, StatusDenied); err != nil && err != ErrEntryFinalized {
				return err
			}
			return fmt.Errorf("%w: balance %s, debit %s", ErrInsufficientBalance, balance, e.Hours.Neg())
		}
		return s.repo.Finalize(ctx, tenantID, entryID, StatusApproved)
	})
}

// VoidPendingCredits denies the pending credits banked for one employee-day.
// A corrected day re-banks its recomputed surplus, so the stale credits must
// not stay eligible for approval.
func (s *Service) VoidPendingCredits(ctx context.Context, tenantID, employeeID int64, date time.Time) (int64, error) {
	n, err := s.repo.DenyPendingCredits(ctx, tenantID, employeeID, date)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pending time bank credits voided",
			slog.Int64("employee_id", employeeID),
			slog.Time("date", date),
			slog.Int64("entries", n))
	}
	return n, nil
}

// DenyEntry is the reject side effect for ledger entries.
func (s *Service) DenyEntry(ctx context.Context, tenantID int64, entryID uuid.UUID) error {
	err := s.repo.Finalize(ctx, tenantID, entryID, StatusDenied)
	if err == ErrEntryFinalized {
		return nil
	}
	return err
}

// Sweep expires approved credits past their expiration date. Runs nightly
// from the worker.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("time bank credits expired", slog.Int64("entries", n))
	}
	return n, nil
}

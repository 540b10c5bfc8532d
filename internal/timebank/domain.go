package timebank

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType categorises where the hours came from.
type EntryType string

const (
	EntryOvertime          EntryType = "overtime"
	EntryCompensatory      EntryType = "compensatory"
	EntryStandby           EntryType = "standby"
	EntryNightDifferential EntryType = "night_differential"
)

// EntryStatus tracks a ledger entry. Expired is one-way: a later change to
// the expiration date never brings the hours back.
type EntryStatus string

const (
	StatusPending  EntryStatus = "pending"
	StatusApproved EntryStatus = "approved"
	StatusDenied   EntryStatus = "denied"
	StatusUtilized EntryStatus = "utilized"
	StatusExpired  EntryStatus = "expired"
)

// Entry is one append-only ledger row. Hours are signed: positive credits,
// negative debits.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   int64           `json:"tenant_id"`
	EmployeeID int64           `json:"employee_id"`
	EntryDate  time.Time       `json:"entry_date"`
	Hours      decimal.Decimal `json:"hours"`
	Type       EntryType       `json:"type"`
	Status     EntryStatus     `json:"status"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

var (
	// ErrNotFound indicates entry missing.
	ErrNotFound = errors.New("timebank: not found")
	// ErrInsufficientBalance indicates a debit would drive the balance negative.
	ErrInsufficientBalance = errors.New("timebank: insufficient balance")
	// ErrEntryFinalized indicates the entry already left pending.
	ErrEntryFinalized = errors.New("timebank: entry already finalized")
	// ErrInvalidHours indicates a zero or wrongly-signed quantity.
	ErrInvalidHours = errors.New("timebank: invalid hour quantity")
)

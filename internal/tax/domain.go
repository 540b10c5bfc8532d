package tax

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TableType discriminates statutory deduction tables sharing one storage shape.
type TableType string

const (
	TableINSS TableType = "INSS"
	TableIRRF TableType = "IRRF"
)

// Bracket is one progressive table row. Upper nil means open-ended.
type Bracket struct {
	ID          int64            `json:"id"`
	TenantID    int64            `json:"tenant_id"`
	Code        string           `json:"code"`
	Description string           `json:"description"`
	TableType   TableType        `json:"table_type"`
	Lower       decimal.Decimal  `json:"lower"`
	Upper       *decimal.Decimal `json:"upper,omitempty"`
	Rate        decimal.Decimal  `json:"rate"`
	Deduction   decimal.Decimal  `json:"deduction"`
	Year        int              `json:"year"`
	Month       int              `json:"month"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Resolution is the outcome of resolving a base against a bracket table.
type Resolution struct {
	Bracket   Bracket         `json:"bracket"`
	Rate      decimal.Decimal `json:"rate"`
	Deduction decimal.Decimal `json:"deduction"`
	Tax       decimal.Decimal `json:"tax"`
}

// FgtsConfig holds the severance-fund parameters with a validity window.
// ValidTo nil means currently in force.
type FgtsConfig struct {
	ID                int64           `json:"id"`
	TenantID          int64           `json:"tenant_id"`
	Rate              decimal.Decimal `json:"rate"`
	SeveranceFineRate decimal.Decimal `json:"severance_fine_rate"`
	SalaryCeiling     decimal.Decimal `json:"salary_ceiling"`
	ValidFrom         time.Time       `json:"valid_from"`
	ValidTo           *time.Time      `json:"valid_to,omitempty"`
}

var (
	// ErrNoActiveTable indicates no bracket set exists for the period.
	ErrNoActiveTable = errors.New("tax: no active bracket table for period")
	// ErrNoMatchingBracket indicates the base falls outside every bracket.
	ErrNoMatchingBracket = errors.New("tax: no bracket matches base")
	// ErrTableGap indicates non-contiguous bracket ranges.
	ErrTableGap = errors.New("tax: bracket table has a gap")
	// ErrTableOverlap indicates overlapping bracket ranges.
	ErrTableOverlap = errors.New("tax: bracket table has overlapping ranges")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("tax: not found")
)

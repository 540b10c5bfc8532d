package employees

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Employee is the master-data record the engine computes against.
type Employee struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	Registration  string          `json:"registration"`
	Name          string          `json:"name"`
	BaseSalary    decimal.Decimal `json:"base_salary"`
	DailyHours    decimal.Decimal `json:"daily_hours"`
	AdmissionDate time.Time       `json:"admission_date"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("employees: not found")
	// ErrDuplicateRegistration indicates the registration number is taken.
	ErrDuplicateRegistration = errors.New("employees: registration already exists")
)

package payroll

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/shared"
)

// RubricaKind classifies how a line item participates in the totals.
type RubricaKind string

const (
	KindEarning   RubricaKind = "earning"
	KindDeduction RubricaKind = "deduction"
	// KindBase accumulates a named calculation base under the rubrica's
	// code. It never hits gross or net; percentage rubricas reference it.
	KindBase RubricaKind = "base"
	// KindInformational is shown on the payslip but excluded from totals.
	KindInformational RubricaKind = "informational"
)

// RubricaNature distinguishes catalog defaults from run-time amounts.
type RubricaNature string

const (
	NatureFixed    RubricaNature = "fixed"
	NatureVariable RubricaNature = "variable"
	NatureNormal   RubricaNature = "normal"
	NatureEventual RubricaNature = "eventual"
)

// Incidence flags which statutory bases a rubrica's value feeds.
type Incidence struct {
	IncomeTax      bool `json:"income_tax"`
	SocialSecurity bool `json:"social_security"`
	SeveranceFund  bool `json:"severance_fund"`
	UnionDues      bool `json:"union_dues"`
}

// Rubrica is one payroll line-item definition. Amount and Percent are
// mutually exclusive; a rubrica with neither resolves to the contractual
// salary. BaseRef names the accumulated base a percentage applies to; empty
// means the contractual salary.
type Rubrica struct {
	ID           int64            `json:"id"`
	TenantID     int64            `json:"tenant_id"`
	Code         string           `json:"code"`
	Name         string           `json:"name"`
	Kind         RubricaKind      `json:"kind"`
	Nature       RubricaNature    `json:"nature"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Percent      *decimal.Decimal `json:"percent,omitempty"`
	BaseRef      string           `json:"base_ref,omitempty"`
	Incidence    Incidence        `json:"incidence"`
	DisplayOrder int              `json:"display_order"`
	Active       bool             `json:"active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Codes the orchestrator feeds from time accounting. Variable rubricas with
// these codes receive their run-time amounts from the splitter output.
const (
	CodeOvertimePaid = "HE100"
	CodeAbsence      = "FALTA"
)

// RunStatus is the orchestrator state machine. queued -> running ->
// {completed, failed, stopped}; all three outcomes are terminal.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// Terminal reports whether the status admits no further transition.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunStopped
}

// Run is one orchestrated calculation over a tenant's active employees.
type Run struct {
	ID         uuid.UUID     `json:"id"`
	TenantID   int64         `json:"tenant_id"`
	Period     shared.Period `json:"period"`
	RunType    string        `json:"run_type"`
	Status     RunStatus     `json:"status"`
	Total      int           `json:"total"`
	Processed  int           `json:"processed"`
	Error      string        `json:"error,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Payroll is one employee's result for a period within a run.
type Payroll struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   int64           `json:"tenant_id"`
	RunID      uuid.UUID       `json:"run_id"`
	EmployeeID int64           `json:"employee_id"`
	Period     shared.Period   `json:"period"`
	Gross      decimal.Decimal `json:"gross"`
	Deductions decimal.Decimal `json:"deductions"`
	Net        decimal.Decimal `json:"net"`
	Status     string          `json:"status"`
	Warnings   []string        `json:"warnings,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PayrollEvent is one resolved rubrica value inside a Payroll.
type PayrollEvent struct {
	ID          int64           `json:"id"`
	PayrollID   uuid.UUID       `json:"payroll_id"`
	RubricaCode string          `json:"rubrica_code"`
	RubricaName string          `json:"rubrica_name"`
	Kind        RubricaKind     `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Order       int             `json:"order"`
}

const (
	PayrollStatusCalculated = "calculated"
	PayrollStatusClosed     = "closed"
)

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("payroll: not found")
	// ErrDuplicateCode indicates the rubrica code is taken for the tenant.
	ErrDuplicateCode = errors.New("payroll: rubrica code already exists")
	// ErrRubricaImmutable indicates a closed payroll references the rubrica.
	ErrRubricaImmutable = errors.New("payroll: rubrica referenced by closed payroll")
	// ErrUnknownBaseReference indicates a percentage rubrica names a base no
	// prior rubrica accumulated.
	ErrUnknownBaseReference = errors.New("payroll: unknown base reference")
	// ErrRunNotStoppable indicates the run already reached a terminal state.
	ErrRunNotStoppable = errors.New("payroll: run is not running")
	// ErrRunExists indicates an active run for the same tenant and period.
	ErrRunExists = errors.New("payroll: a run for this period is already active")
)

package payroll

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/folha-rh/folha-rh/internal/shared"
)

// PayslipLine is one formatted rubrica on the slip.
type PayslipLine struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
}

// Payslip is the employee-facing view of one payroll result.
type Payslip struct {
	EmployeeID int64         `json:"employee_id"`
	Period     string        `json:"period"`
	Status     string        `json:"status"`
	Lines      []PayslipLine `json:"lines"`
	Gross      string        `json:"gross"`
	Deductions string        `json:"deductions"`
	Net        string        `json:"net"`
	Warnings   []string      `json:"warnings,omitempty"`
}

var ptBR = message.NewPrinter(language.BrazilianPortuguese)

// formatBRL renders an amount with Brazilian digit grouping, "1.234,56".
func formatBRL(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return ptBR.Sprintf("R$ %.2f", f)
}

// Payslip assembles the latest result for one employee and period.
func (s *Service) Payslip(ctx context.Context, tenantID, employeeID int64, period shared.Period) (*Payslip, error) {
	p, events, err := s.repo.GetPayslip(ctx, tenantID, employeeID, period)
	if err != nil {
		return nil, err
	}

	slip := &Payslip{
		EmployeeID: p.EmployeeID,
		Period:     p.Period.String(),
		Status:     p.Status,
		Gross:      formatBRL(p.Gross),
		Deductions: formatBRL(p.Deductions),
		Net:        formatBRL(p.Net),
		Warnings:   p.Warnings,
	}
	for _, ev := range events {
		slip.Lines = append(slip.Lines, PayslipLine{
			Code:      ev.RubricaCode,
			Name:      ev.RubricaName,
			Kind:      string(ev.Kind),
			Amount:    ev.Amount.StringFixed(2),
			Formatted: formatBRL(ev.Amount),
		})
	}
	return slip, nil
}

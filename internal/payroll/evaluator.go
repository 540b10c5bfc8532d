package payroll

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/shared"
	"github.com/folha-rh/folha-rh/internal/tax"
)

// TaxSource resolves statutory deductions. Satisfied by *tax.Service.
type TaxSource interface {
	ResolveINSS(ctx context.Context, tenantID int64, base decimal.Decimal, period shared.Period) (tax.Resolution, error)
	ResolveIRRF(ctx context.Context, tenantID int64, base decimal.Decimal, period shared.Period) (tax.Resolution, error)
	FgtsFor(ctx context.Context, tenantID int64, period shared.Period) (tax.FgtsConfig, error)
	TableFor(ctx context.Context, tenantID int64, tableType tax.TableType, period shared.Period) ([]tax.Bracket, error)
}

// EvalInput is everything the evaluator needs for one employee and period.
// VariableAmounts carries run-time values keyed by rubrica code, typically
// the paid overtime and absence amounts derived from time records.
type EvalInput struct {
	TenantID        int64
	EmployeeID      int64
	Period          shared.Period
	Salary          decimal.Decimal
	Rubricas        []Rubrica
	VariableAmounts map[string]decimal.Decimal
	Warnings        []string
}

// EvalLine is one resolved rubrica.
type EvalLine struct {
	Code   string
	Name   string
	Kind   RubricaKind
	Amount decimal.Decimal
	Order  int
}

// EvalResult is the evaluator output for one employee.
type EvalResult struct {
	Lines      []EvalLine
	Gross      decimal.Decimal
	Deductions decimal.Decimal
	Net        decimal.Decimal
	Warnings   []string
}

// Evaluator resolves a rubrica catalog into payroll line items.
type Evaluator struct {
	taxes TaxSource
}

func NewEvaluator(taxes TaxSource) *Evaluator {
	return &Evaluator{taxes: taxes}
}

// Evaluate walks the active rubricas in display order, accumulating the
// statutory and named bases as it goes. Earlier lines feed later ones, so
// the output is deterministic for a fixed catalog and input.
func (e *Evaluator) Evaluate(ctx context.Context, input EvalInput) (*EvalResult, error) {
	rubricas := make([]Rubrica, 0, len(input.Rubricas))
	for _, r := range input.Rubricas {
		if r.Active {
			rubricas = append(rubricas, r)
		}
	}
	sort.SliceStable(rubricas, func(i, j int) bool {
		return rubricas[i].DisplayOrder < rubricas[j].DisplayOrder
	})

	result := &EvalResult{Warnings: append([]string(nil), input.Warnings...)}
	var (
		ssBase    decimal.Decimal
		taxBase   decimal.Decimal
		inssTotal decimal.Decimal
		bases     = make(map[string]decimal.Decimal)
	)

	for _, r := range rubricas {
		amount, err := e.resolveAmount(ctx, r, input, bases, ssBase, taxBase, inssTotal)
		if err != nil {
			return nil, fmt.Errorf("rubrica %s: %w", r.Code, err)
		}
		amount = amount.Round(2)

		switch r.Kind {
		case KindEarning:
			result.Gross = result.Gross.Add(amount)
			if r.Incidence.SocialSecurity {
				ssBase = ssBase.Add(amount)
			}
			if r.Incidence.IncomeTax {
				taxBase = taxBase.Add(amount)
			}
		case KindDeduction:
			result.Deductions = result.Deductions.Add(amount)
			if r.Incidence.SocialSecurity {
				inssTotal = inssTotal.Add(amount)
			}
		case KindBase:
			bases[r.Code] = bases[r.Code].Add(amount)
		case KindInformational:
			// payslip only
		}

		result.Lines = append(result.Lines, EvalLine{
			Code:   r.Code,
			Name:   r.Name,
			Kind:   r.Kind,
			Amount: amount,
			Order:  r.DisplayOrder,
		})
	}

	result.Net = result.Gross.Sub(result.Deductions)
	if result.Net.IsNegative() {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("negative net pay %s, manual review required", result.Net.StringFixed(2)))
	}
	return result, nil
}

func (e *Evaluator) resolveAmount(ctx context.Context, r Rubrica, input EvalInput, bases map[string]decimal.Decimal, ssBase, taxBase, inssTotal decimal.Decimal) (decimal.Decimal, error) {
	// Statutory deductions resolve through the bracket tables, not the
	// catalog value. INSS is cumulative over the social-security base; IRRF
	// is marginal over the taxable base net of INSS.
	if r.Kind == KindDeduction && r.Incidence.SocialSecurity {
		res, err := e.taxes.ResolveINSS(ctx, input.TenantID, ssBase, input.Period)
		if err != nil {
			return decimal.Zero, err
		}
		return res.Tax, nil
	}
	if r.Kind == KindDeduction && r.Incidence.IncomeTax {
		res, err := e.taxes.ResolveIRRF(ctx, input.TenantID, taxBase.Sub(inssTotal), input.Period)
		if err != nil {
			return decimal.Zero, err
		}
		return res.Tax, nil
	}
	// Severance fund deposits are employer-side: informational, capped at
	// the configured salary ceiling.
	if r.Kind == KindInformational && r.Incidence.SeveranceFund {
		cfg, err := e.taxes.FgtsFor(ctx, input.TenantID, input.Period)
		if err != nil {
			return decimal.Zero, err
		}
		base := ssBase
		if cfg.SalaryCeiling.IsPositive() && base.GreaterThan(cfg.SalaryCeiling) {
			base = cfg.SalaryCeiling
		}
		return base.Mul(cfg.Rate).Div(decimal.NewFromInt(100)), nil
	}

	if r.Nature == NatureVariable {
		return input.VariableAmounts[r.Code], nil
	}
	if r.Percent != nil {
		base := input.Salary
		if r.BaseRef != "" {
			accumulated, ok := bases[r.BaseRef]
			if !ok {
				return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownBaseReference, r.BaseRef)
			}
			base = accumulated
		}
		return base.Mul(*r.Percent).Div(decimal.NewFromInt(100)), nil
	}
	if r.Amount != nil {
		return *r.Amount, nil
	}
	// Neither amount nor percent: the contractual salary rubrica.
	return input.Salary, nil
}

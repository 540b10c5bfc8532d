package tax

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Resolve maps a monetary base onto a bracket table and returns the tax due.
//
// Two models are supported. The marginal model (IRRF) taxes the whole base at
// the matching bracket's rate and subtracts that bracket's fixed deduction.
// The cumulative model (INSS) sums per-slice taxes over every bracket up to
// and including the matching one. The result is never negative.
func Resolve(base decimal.Decimal, brackets []Bracket, cumulative bool) (Resolution, error) {
	if len(brackets) == 0 {
		return Resolution{}, ErrNoActiveTable
	}
	if base.IsNegative() {
		return Resolution{}, fmt.Errorf("%w: base %s", ErrNoMatchingBracket, base)
	}

	sorted := sortedByLower(brackets)

	match, ok := findBracket(base, sorted)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: base %s", ErrNoMatchingBracket, base)
	}

	var tax decimal.Decimal
	if cumulative {
		for _, b := range sorted {
			if b.Lower.GreaterThan(base) {
				break
			}
			slice := base
			if b.Upper != nil && b.Upper.LessThan(base) {
				slice = *b.Upper
			}
			tax = tax.Add(slice.Sub(b.Lower).Mul(b.Rate))
		}
	} else {
		tax = base.Mul(match.Rate).Sub(match.Deduction)
	}

	if tax.IsNegative() {
		tax = decimal.Zero
	}

	return Resolution{
		Bracket:   match,
		Rate:      match.Rate,
		Deduction: match.Deduction,
		Tax:       tax.Round(2),
	}, nil
}

// ValidateTable checks that bracket ranges are contiguous and non-overlapping
// starting at zero, with at most one open-ended top bracket. Runs call this
// before processing any employee so a bad table halts the whole run.
func ValidateTable(brackets []Bracket) error {
	if len(brackets) == 0 {
		return ErrNoActiveTable
	}
	sorted := sortedByLower(brackets)

	expected := decimal.Zero
	for i, b := range sorted {
		switch {
		case b.Lower.GreaterThan(expected):
			return fmt.Errorf("%w: expected lower %s, got %s (%s)", ErrTableGap, expected, b.Lower, b.Code)
		case b.Lower.LessThan(expected):
			return fmt.Errorf("%w: bracket %s starts at %s before %s", ErrTableOverlap, b.Code, b.Lower, expected)
		}
		if b.Upper == nil {
			if i != len(sorted)-1 {
				return fmt.Errorf("%w: open-ended bracket %s is not last", ErrTableOverlap, b.Code)
			}
			return nil
		}
		if !b.Upper.GreaterThan(b.Lower) {
			return fmt.Errorf("%w: bracket %s is empty", ErrTableGap, b.Code)
		}
		expected = *b.Upper
	}
	return nil
}

func sortedByLower(brackets []Bracket) []Bracket {
	out := append([]Bracket(nil), brackets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Lower.LessThan(out[j].Lower) })
	return out
}

func findBracket(base decimal.Decimal, sorted []Bracket) (Bracket, bool) {
	for _, b := range sorted {
		if base.LessThan(b.Lower) {
			continue
		}
		if b.Upper == nil || base.LessThan(*b.Upper) {
			return b, true
		}
	}
	// Above the top bounded bracket: the cumulative model caps at the
	// ceiling, so the last bracket still applies.
	last := sorted[len(sorted)-1]
	if last.Upper != nil && base.GreaterThanOrEqual(*last.Upper) {
		return last, true
	}
	return Bracket{}, false
}

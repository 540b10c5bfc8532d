package timesheet

import (
	"time"

	"github.com/shopspring/decimal"
)

var minutesPerHour = decimal.NewFromInt(60)

// Split classifies one day of punches against the scheduled hours.
//
// Worked time is the sum of regular and extra intervals; lunch pairs never
// count. A deficit against the schedule becomes absence, floored at zero.
// Surplus goes to the 50% tier up to the bank threshold, the remainder to
// the 100% tier paid directly on the payroll. An out punch earlier than its
// in punch is treated as next-day (cross-midnight shift).
func Split(pairs []PunchPair, scheduledHours, bankThreshold decimal.Decimal) SplitResult {
	var workedMinutes int64
	incomplete := false

	for _, p := range pairs {
		// Completeness before kind: a lunch pair with a missing out punch
		// still marks the stream malformed even though it counts no time.
		if p.Out == nil {
			incomplete = true
			continue
		}
		if p.Kind == PunchLunch {
			continue
		}
		out := *p.Out
		if out.Before(p.In) {
			out = out.Add(24 * time.Hour)
		}
		workedMinutes += int64(out.Sub(p.In) / time.Minute)
	}

	worked := decimal.NewFromInt(workedMinutes).Div(minutesPerHour)
	diff := worked.Sub(scheduledHours)

	result := SplitResult{
		Worked:      worked,
		Overtime50:  decimal.Zero,
		Overtime100: decimal.Zero,
		Absence:     decimal.Zero,
		Incomplete:  incomplete,
	}

	switch {
	case diff.IsNegative():
		result.Absence = diff.Neg()
	case diff.IsPositive():
		if bankThreshold.IsNegative() {
			bankThreshold = decimal.Zero
		}
		if diff.LessThanOrEqual(bankThreshold) {
			result.Overtime50 = diff
		} else {
			result.Overtime50 = bankThreshold
			result.Overtime100 = diff.Sub(bankThreshold)
		}
	}
	return result
}

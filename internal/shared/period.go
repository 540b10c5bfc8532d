package shared

import (
	"errors"
	"fmt"
	"time"
)

// Period identifies one payroll competence month.
type Period struct {
	Year  int
	Month int
}

// ErrInvalidPeriod indicates an out-of-range month or year.
var ErrInvalidPeriod = errors.New("invalid period")

// NewPeriod validates and builds a Period.
func NewPeriod(year, month int) (Period, error) {
	if year < 2000 || year > 2100 || month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: %04d-%02d", ErrInvalidPeriod, year, month)
	}
	return Period{Year: year, Month: month}, nil
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Start returns the first instant of the period in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Before reports whether p precedes other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

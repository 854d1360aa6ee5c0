/*
Package generic provides the date and quantity engine shared by the billing packages.

PURPOSE:
  This package contains domain-agnostic types and algorithms for working with
  inclusive date ranges and measured quantities. Charge periods, billing periods
  and abstraction windows are all Periods; volumes are decimals.

KEY CONCEPTS:
  - TimePoint: a calendar date, zero value meaning "unset"
  - Period: an inclusive [Start, End] range, with a null sentinel
  - AbstractionPeriod: a recurring day/month window that may wrap 31 Dec
  - Quantities: decimal.Decimal to avoid floating-point drift when volumes are
    divided, summed and allocated line by line

DESIGN PRINCIPLES:
  1. Purity: nothing here performs I/O or holds shared state
  2. Precision: decimal.Decimal for every quantity
  3. Inclusive bounds: periods that touch at an endpoint overlap

USAGE:
  billing := generic.FinancialYear(2024)
  periods := generic.ResolveAbstractionPeriods(billing, generic.AbstractionPeriod{
      StartDay: 1, StartMonth: 11, EndDay: 31, EndMonth: 3,
  })
  overlaps := generic.PeriodsOverlap(periods, []generic.Period{line})

SEE ALSO:
  - period.go: Period, overlap, financial years
  - abstraction.go: abstraction period resolver
  - errors.go: sentinel and structured errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY HELPERS
// =============================================================================

// MustParseDecimal parses s, returning zero for malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

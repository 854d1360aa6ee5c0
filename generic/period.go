package generic

import "time"

// =============================================================================
// PERIOD - The unit every billing boundary is expressed in
// =============================================================================

// Period is an inclusive date range [Start, End].
//
// Used for billing periods, charge periods, and resolved abstraction periods.
// A period whose Start is unset is the "no valid period" sentinel, not an
// empty range; see NullPeriod.
//
// Examples:
//   - Financial year 2024: 1 Apr 2023 - 31 Mar 2024
//   - Charge period: overlap of billing, charge version and licence windows
type Period struct {
	Start TimePoint `json:"start_date"`
	End   TimePoint `json:"end_date"`
}

// NullPeriod is returned when the windows being intersected are incompatible.
func NullPeriod() Period {
	return Period{}
}

// IsNull reports whether p is the "no valid period" sentinel.
func (p Period) IsNull() bool {
	return p.Start.IsZero()
}

// Validate rejects a period with a missing bound or an end before its start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps uses inclusive bounds: periods that only touch at an endpoint overlap.
func (p Period) Overlaps(check Period) bool {
	return !(check.Start.After(p.End) || p.Start.After(check.End))
}

// Clip returns the intersection of p with reference. Callers check Overlaps first.
func (p Period) Clip(reference Period) Period {
	return Period{
		Start: Latest(p.Start, reference.Start),
		End:   Earliest(p.End, reference.End),
	}
}

// AddYears shifts both bounds.
func (p Period) AddYears(n int) Period {
	return Period{Start: p.Start.AddYears(n), End: p.End.AddYears(n)}
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodsOverlap returns true if any reference period overlaps any check period.
func PeriodsOverlap(referencePeriods, checkPeriods []Period) bool {
	for _, reference := range referencePeriods {
		for _, check := range checkPeriods {
			if reference.Overlaps(check) {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// FINANCIAL YEARS
// =============================================================================

// SrocFirstYearEnding is the first financial year billed under the current
// charging scheme. Earlier years are PRESROC.
const SrocFirstYearEnding = 2023

// FinancialYear returns 1 April to 31 March for the year ending yearEnding.
func FinancialYear(yearEnding int) Period {
	return Period{
		Start: NewTimePoint(yearEnding-1, time.April, 1),
		End:   NewTimePoint(yearEnding, time.March, 31),
	}
}

// FinancialYearEnding returns the year in which the financial year holding date ends.
func FinancialYearEnding(date TimePoint) int {
	if date.Month() >= time.April {
		return date.Year() + 1
	}
	return date.Year()
}

// IsSrocYear reports whether the financial year is billed under the current scheme.
func IsSrocYear(yearEnding int) bool {
	return yearEnding >= SrocFirstYearEnding
}

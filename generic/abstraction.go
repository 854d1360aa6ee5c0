package generic

import "time"

// AbstractionPeriod is a recurring day/month window during which water may be
// abstracted, e.g. 1 Apr - 31 Oct, or 1 Nov - 31 Mar when it wraps the year end.
// Months are 1-indexed.
type AbstractionPeriod struct {
	StartDay   int `json:"start_day"`
	StartMonth int `json:"start_month"`
	EndDay     int `json:"end_day"`
	EndMonth   int `json:"end_month"`
}

// Validate rejects missing or out-of-range fields. 29 Feb is accepted.
func (ap AbstractionPeriod) Validate() error {
	if err := validateMonth("start_month", ap.StartMonth); err != nil {
		return err
	}
	if err := validateMonth("end_month", ap.EndMonth); err != nil {
		return err
	}
	if err := validateDay("start_day", ap.StartDay, ap.StartMonth); err != nil {
		return err
	}
	return validateDay("end_day", ap.EndDay, ap.EndMonth)
}

func validateMonth(field string, month int) error {
	if month < 1 || month > 12 {
		return &AbstractionPeriodError{Field: field, Value: month}
	}
	return nil
}

func validateDay(field string, day, month int) error {
	// 2024 is a leap year so 29 Feb is allowed.
	last := time.Date(2024, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day < 1 || day > last {
		return &AbstractionPeriodError{Field: field, Value: day}
	}
	return nil
}

// ResolveAbstractionPeriods converts ap into the concrete date ranges that fall
// within referencePeriod, clipped to it.
//
// Candidates are built in the reference start year and in the years either
// side, so a window wrapping 31 Dec can yield two pieces:
//
//	reference 2023-01-01..2023-12-31, 1 Nov - 31 Mar
//	  -> [2023-01-01, 2023-03-31], [2023-11-01, 2023-12-31]
//
// Results are ordered earliest first.
func ResolveAbstractionPeriods(referencePeriod Period, ap AbstractionPeriod) []Period {
	first := firstAbstractionPeriod(referencePeriod.Start.Year(), ap)
	candidates := []Period{first.AddYears(-1), first, first.AddYears(1)}

	var periods []Period
	for _, candidate := range candidates {
		if !referencePeriod.Overlaps(candidate) {
			continue
		}
		periods = append(periods, candidate.Clip(referencePeriod))
	}
	return periods
}

func firstAbstractionPeriod(year int, ap AbstractionPeriod) Period {
	start := NewTimePoint(year, time.Month(ap.StartMonth), ap.StartDay)
	end := NewTimePoint(year, time.Month(ap.EndMonth), ap.EndDay)

	if end.Before(start) {
		end = end.AddYears(1)
	}
	return Period{Start: start, End: end}
}

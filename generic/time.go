package generic

import (
	"bytes"
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar date used for every billing boundary
// =============================================================================

// DateLayout is the wire format for dates in documents and the database.
const DateLayout = "2006-01-02"

// TimePoint is a calendar date (UTC midnight). The zero value means "unset".
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string. An empty string is the zero TimePoint.
func ParseDate(s string) (TimePoint, error) {
	if s == "" {
		return TimePoint{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return TimePoint{Time: t}, nil
}

// MustParseDate is ParseDate for literals known to be valid.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

func Today() TimePoint {
	now := time.Now()
	return NewTimePoint(now.Year(), now.Month(), now.Day())
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic. AddYears on 29 Feb rolls forward to 1 Mar in a non-leap year.
func (tp TimePoint) AddYears(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(n, 0, 0)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return "null"
	}
	return tp.Time.Format(DateLayout)
}

// MarshalJSON writes the date as YYYY-MM-DD, or null when unset.
func (tp TimePoint) MarshalJSON() ([]byte, error) {
	if tp.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + tp.Time.Format(DateLayout) + `"`), nil
}

// UnmarshalJSON accepts YYYY-MM-DD, RFC3339 or null.
func (tp *TimePoint) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*tp = TimePoint{}
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	if len(s) > len(DateLayout) {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", s, err)
		}
		*tp = NewTimePoint(t.Year(), t.Month(), t.Day())
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// Latest returns the latest of the set (non-zero) points. Zero if none are set.
func Latest(points ...TimePoint) TimePoint {
	var latest TimePoint
	for _, p := range points {
		if p.IsZero() {
			continue
		}
		if latest.IsZero() || p.After(latest) {
			latest = p
		}
	}
	return latest
}

// Earliest returns the earliest of the set (non-zero) points. Zero if none are set.
func Earliest(points ...TimePoint) TimePoint {
	var earliest TimePoint
	for _, p := range points {
		if p.IsZero() {
			continue
		}
		if earliest.IsZero() || p.Before(earliest) {
			earliest = p
		}
	}
	return earliest
}

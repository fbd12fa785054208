/*
Package fiscal provides the time arithmetic the ledger and sync engines
are built on: day-granularity date ranges and fiscal-year windows.

PURPOSE:
  Leave is consumed in calendar days and accounted in fiscal years. This
  package keeps both concepts in one place so every component counts days
  and resolves fiscal-year boundaries the same way.

KEY CONCEPTS:
  - DateRange: an inclusive [Start, End] span of calendar days
  - Year:      a 12-month accounting window with a configurable start month

CONVENTIONS:
  All dates are normalized to midnight UTC. Inclusive day counts: a leave
  from Jan 10 to Jan 11 is 2 days. A fiscal year starting in April 2025
  runs Apr 1 2025 - Mar 31 2026 and is labeled "2025-2026"; a January
  start is labeled "2025".
*/
package fiscal

import (
	"fmt"
	"time"
)

// Day truncates t to midnight UTC. All range and year arithmetic operates
// on day-normalized times.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// DATE RANGE - Inclusive span of calendar days
// =============================================================================

// DateRange is an inclusive span of calendar days [Start, End].
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange normalizes both endpoints to day granularity.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// Valid reports whether the range is well-formed (End not before Start).
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !r.End.Before(r.Start)
}

// Contains reports whether day falls within the range, inclusive.
func (r DateRange) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(r.Start) && !d.After(r.End)
}

// DaysInclusive returns the number of calendar days in the range.
// Jan 10 - Jan 11 is 2 days.
func (r DateRange) DaysInclusive() int {
	if !r.Valid() {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Days returns every calendar day in the range, in order.
func (r DateRange) Days() []time.Time {
	if !r.Valid() {
		return nil
	}
	days := make([]time.Time, 0, r.DaysInclusive())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Equal reports whether both ranges cover the same days.
func (r DateRange) Equal(other DateRange) bool {
	return SameDay(r.Start, other.Start) && SameDay(r.End, other.End)
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// =============================================================================
// FISCAL YEAR - Accounting window with configurable start month
// =============================================================================

// Year identifies one fiscal year: the 12 months beginning on the first
// day of StartMonth in StartYear.
type Year struct {
	StartYear  int
	StartMonth time.Month
}

// NewYear builds a fiscal year. A zero StartMonth defaults to January.
func NewYear(startYear int, startMonth time.Month) Year {
	if startMonth == 0 {
		startMonth = time.January
	}
	return Year{StartYear: startYear, StartMonth: startMonth}
}

// ForDate returns the fiscal year containing t for the given start month.
func ForDate(t time.Time, startMonth time.Month) Year {
	y := NewYear(t.Year(), startMonth)
	if Day(t).Before(y.Start()) {
		y.StartYear--
	}
	return y
}

// Start returns the first day of the fiscal year.
func (y Year) Start() time.Time {
	return time.Date(y.StartYear, y.StartMonth, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the fiscal year.
func (y Year) End() time.Time {
	return y.Start().AddDate(1, 0, -1)
}

// Next returns the following fiscal year.
func (y Year) Next() Year {
	return Year{StartYear: y.StartYear + 1, StartMonth: y.StartMonth}
}

// Range returns the fiscal year as an inclusive date range.
func (y Year) Range() DateRange {
	return DateRange{Start: y.Start(), End: y.End()}
}

// Contains reports whether t falls inside the fiscal year.
func (y Year) Contains(t time.Time) bool {
	return y.Range().Contains(t)
}

// Label returns the tag recorded on ledger entries: "2025" for a
// January-start year, "2025-2026" when the year spans two calendar years.
func (y Year) Label() string {
	if y.StartMonth == time.January || y.StartMonth == 0 {
		return fmt.Sprintf("%d", y.StartYear)
	}
	return fmt.Sprintf("%d-%d", y.StartYear, y.StartYear+1)
}

// ParseLabel parses a label produced by Label back into a Year.
func ParseLabel(label string, startMonth time.Month) (Year, error) {
	var from, to int
	if n, err := fmt.Sscanf(label, "%d-%d", &from, &to); err == nil && n == 2 {
		return NewYear(from, startMonth), nil
	}
	if n, err := fmt.Sscanf(label, "%d", &from); err == nil && n == 1 {
		return NewYear(from, startMonth), nil
	}
	return Year{}, fmt.Errorf("invalid fiscal year label %q", label)
}

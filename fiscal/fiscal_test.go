package fiscal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/fiscal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// DATE RANGE TESTS
// =============================================================================

func TestDateRange_DaysInclusive(t *testing.T) {
	// GIVEN: A leave from Jan 10 to Jan 11
	// THEN: It counts as 2 days (inclusive on both ends)
	r := fiscal.NewDateRange(date(2025, time.January, 10), date(2025, time.January, 11))
	assert.Equal(t, 2, r.DaysInclusive())

	single := fiscal.NewDateRange(date(2025, time.January, 10), date(2025, time.January, 10))
	assert.Equal(t, 1, single.DaysInclusive())
}

func TestDateRange_Invalid(t *testing.T) {
	// GIVEN: End before start
	// THEN: The range is invalid and yields no days
	r := fiscal.NewDateRange(date(2025, time.March, 5), date(2025, time.March, 1))
	assert.False(t, r.Valid())
	assert.Equal(t, 0, r.DaysInclusive())
	assert.Nil(t, r.Days())
}

func TestDateRange_NormalizesToMidnightUTC(t *testing.T) {
	// GIVEN: Endpoints with time-of-day components
	// THEN: The range operates on calendar days
	start := time.Date(2025, time.June, 1, 23, 59, 0, 0, time.UTC)
	end := time.Date(2025, time.June, 3, 0, 1, 0, 0, time.UTC)
	r := fiscal.NewDateRange(start, end)

	assert.Equal(t, 3, r.DaysInclusive())
	assert.True(t, r.Contains(time.Date(2025, time.June, 2, 15, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(date(2025, time.June, 4)))
}

func TestDateRange_Days(t *testing.T) {
	r := fiscal.NewDateRange(date(2025, time.February, 27), date(2025, time.March, 2))
	days := r.Days()
	require.Len(t, days, 4)
	assert.Equal(t, date(2025, time.February, 27), days[0])
	assert.Equal(t, date(2025, time.March, 2), days[3])
}

// =============================================================================
// FISCAL YEAR TESTS
// =============================================================================

func TestYear_JanuaryStartLabel(t *testing.T) {
	y := fiscal.NewYear(2025, time.January)
	assert.Equal(t, "2025", y.Label())
	assert.Equal(t, date(2025, time.January, 1), y.Start())
	assert.Equal(t, date(2025, time.December, 31), y.End())
}

func TestYear_AprilStartSpansCalendarYears(t *testing.T) {
	// GIVEN: A tenant whose fiscal year starts in April
	// THEN: FY2025 runs Apr 1 2025 - Mar 31 2026 and is labeled "2025-2026"
	y := fiscal.NewYear(2025, time.April)
	assert.Equal(t, "2025-2026", y.Label())
	assert.Equal(t, date(2025, time.April, 1), y.Start())
	assert.Equal(t, date(2026, time.March, 31), y.End())
}

func TestForDate_BeforeStartMonthBelongsToPreviousYear(t *testing.T) {
	// GIVEN: An April fiscal year start
	// WHEN: Resolving a date in March 2025
	// THEN: It falls in the fiscal year that started April 2024
	y := fiscal.ForDate(date(2025, time.March, 15), time.April)
	assert.Equal(t, 2024, y.StartYear)
	assert.Equal(t, "2024-2025", y.Label())

	// And a date in April 2025 starts the new year.
	y = fiscal.ForDate(date(2025, time.April, 1), time.April)
	assert.Equal(t, 2025, y.StartYear)
}

func TestYear_NextAndContains(t *testing.T) {
	y := fiscal.NewYear(2025, time.April)
	next := y.Next()
	assert.Equal(t, 2026, next.StartYear)
	assert.True(t, y.Contains(date(2026, time.March, 31)))
	assert.False(t, y.Contains(date(2026, time.April, 1)))
	assert.True(t, next.Contains(date(2026, time.April, 1)))
}

func TestParseLabel_RoundTrip(t *testing.T) {
	for _, y := range []fiscal.Year{
		fiscal.NewYear(2025, time.January),
		fiscal.NewYear(2025, time.April),
		fiscal.NewYear(2030, time.July),
	} {
		parsed, err := fiscal.ParseLabel(y.Label(), y.StartMonth)
		require.NoError(t, err)
		assert.Equal(t, y, parsed)
	}

	_, err := fiscal.ParseLabel("not-a-year", time.January)
	assert.Error(t, err)
}

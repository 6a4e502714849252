package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	cases := map[string]Period{
		"":    PeriodAll,
		"1d":  Period1D,
		"1W":  Period1W,
		" 1M": Period1M,
		"1Y":  Period1Y,
		"all": PeriodAll,
	}
	for in, want := range cases {
		got, err := ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePeriod("2D")
	require.ErrorIs(t, err, ErrValidation)
}

func TestPeriodUnit(t *testing.T) {
	assert.Equal(t, UnitHour, Period1D.Unit())
	assert.Equal(t, UnitDay, Period1W.Unit())
	assert.Equal(t, UnitDay, Period1M.Unit())
	assert.Equal(t, UnitMonth, Period1Y.Unit())
	assert.Equal(t, UnitMonth, PeriodAll.Unit())
}

func TestResolveCalendar_Day(t *testing.T) {
	now := time.Date(2026, time.March, 11, 15, 42, 7, 0, time.UTC)

	r, err := ResolveCalendar(Period1D, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2026, time.March, 11, 23, 59, 59, 999_000_000, time.UTC), r.End)
}

func TestResolveCalendar_WeekStartsMondayForEveryWeekday(t *testing.T) {
	loc := time.FixedZone("broker", 2*60*60)
	day := time.Date(2026, time.January, 1, 13, 30, 0, 0, loc)

	for i := 0; i < 366; i++ {
		now := day.AddDate(0, 0, i)
		r, err := ResolveCalendar(Period1W, now)
		require.NoError(t, err)

		assert.Equal(t, time.Monday, r.Start.Weekday(), now)
		assert.Equal(t, 0, r.Start.Hour())
		assert.Equal(t, 0, r.Start.Minute())
		assert.Equal(t, 0, r.Start.Second())
		assert.Equal(t, 0, r.Start.Nanosecond())

		assert.Equal(t, time.Sunday, r.End.Weekday(), now)
		assert.Equal(t, 23, r.End.Hour())
		assert.Equal(t, 59, r.End.Minute())
		assert.Equal(t, 59, r.End.Second())
		assert.Equal(t, 999_000_000, r.End.Nanosecond())

		assert.False(t, now.Before(r.Start))
		assert.False(t, now.After(r.End))
	}
}

func TestResolveCalendar_MonthAndYear(t *testing.T) {
	now := time.Date(2028, time.February, 29, 8, 0, 0, 0, time.UTC)

	m, err := ResolveCalendar(Period1M, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2028, time.February, 1, 0, 0, 0, 0, time.UTC), m.Start)
	assert.Equal(t, time.Date(2028, time.February, 29, 23, 59, 59, 999_000_000, time.UTC), m.End)

	y, err := ResolveCalendar(Period1Y, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2028, time.January, 1, 0, 0, 0, 0, time.UTC), y.Start)
	assert.Equal(t, time.Date(2028, time.December, 31, 23, 59, 59, 999_000_000, time.UTC), y.End)
}

func TestResolveCalendar_RejectsAll(t *testing.T) {
	_, err := ResolveCalendar(PeriodAll, time.Now())
	require.ErrorIs(t, err, ErrValidation)
}

func TestResolveAll(t *testing.T) {
	now := time.Date(2026, time.May, 5, 12, 0, 0, 0, time.UTC)

	r := ResolveAll(time.Time{}, false, now)
	assert.Equal(t, now, r.Start)
	assert.Equal(t, now, r.End)

	earliest := now.AddDate(0, -3, 0)
	r = ResolveAll(earliest, true, now)
	assert.Equal(t, earliest, r.Start)
	assert.Equal(t, now, r.End)
}

func TestRangeClamp(t *testing.T) {
	now := time.Date(2026, time.May, 5, 12, 0, 0, 0, time.UTC)
	r, err := ResolveCalendar(Period1D, now)
	require.NoError(t, err)

	clamped := r.Clamp(now)
	assert.Equal(t, r.Start, clamped.Start)
	assert.Equal(t, now, clamped.End)

	past := now.AddDate(0, 0, -2)
	assert.Equal(t, r.End, r.Clamp(now.AddDate(0, 0, 1)).End)
	assert.Equal(t, past, r.Clamp(past).Start)
}

func TestUnitTruncate(t *testing.T) {
	ts := time.Date(2026, time.July, 17, 14, 35, 12, 5, time.UTC)

	assert.Equal(t, time.Date(2026, time.July, 17, 14, 0, 0, 0, time.UTC), UnitHour.Truncate(ts))
	assert.Equal(t, time.Date(2026, time.July, 17, 0, 0, 0, 0, time.UTC), UnitDay.Truncate(ts))
	assert.Equal(t, time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC), UnitMonth.Truncate(ts))
}

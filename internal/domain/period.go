package domain

import (
	"strings"
	"time"
)

// Period symbolic reporting window.
type Period string

const (
	Period1D  Period = "1D"
	Period1W  Period = "1W"
	Period1M  Period = "1M"
	Period1Y  Period = "1Y"
	PeriodAll Period = "ALL"
)

// ParsePeriod parses a period token. An empty token means ALL.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case "":
		return PeriodAll, nil
	case Period1D, Period1W, Period1M, Period1Y, PeriodAll:
		return p, nil
	default:
		return "", Validationf("unknown period %q", s)
	}
}

// Unit returns the bucket width used for the period.
func (p Period) Unit() Unit {
	switch p {
	case Period1D:
		return UnitHour
	case Period1W, Period1M:
		return UnitDay
	default:
		return UnitMonth
	}
}

// Unit bucket width.
type Unit string

const (
	UnitHour  Unit = "hour"
	UnitDay   Unit = "day"
	UnitMonth Unit = "month"
)

// Truncate returns the start of the bucket containing t, in t's location.
func (u Unit) Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch u {
	case UnitHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case UnitDay:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	}
}

// Range closed-closed time window.
type Range struct {
	Start time.Time
	End   time.Time
}

// Clamp caps the end at now so no future point is produced.
// The start never passes the end.
func (r Range) Clamp(now time.Time) Range {
	if r.End.After(now) {
		r.End = now
	}
	if r.Start.After(r.End) {
		r.Start = r.End
	}
	return r
}

// ResolveCalendar resolves a calendar period around now, in now's location.
// ALL depends on stored data and is resolved by the caller.
func ResolveCalendar(p Period, now time.Time) (Range, error) {
	y, m, d := now.Date()
	loc := now.Location()

	switch p {
	case Period1D:
		start := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return Range{Start: start, End: endOfDay(start)}, nil
	case Period1W:
		// weeks start on monday
		offset := (int(now.Weekday()) + 6) % 7
		start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 0, 6))}, nil
	case Period1M:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 1, -1))}, nil
	case Period1Y:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: endOfDay(time.Date(y, time.December, 31, 0, 0, 0, 0, loc))}, nil
	default:
		return Range{}, Validationf("period %q is not a calendar period", p)
	}
}

// ResolveAll builds the ALL range from the earliest known activity.
func ResolveAll(earliest time.Time, found bool, now time.Time) Range {
	if !found || earliest.After(now) {
		return Range{Start: now, End: now}
	}
	return Range{Start: earliest.In(now.Location()), End: now}
}

func endOfDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), day.Location())
}

// Package calmath holds the calendar arithmetic shared by the occurrence
// engine and the month schedule code. Every function is pure.
package calmath

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// naiveLayouts are accepted by ParseDateTime for values that carry no UTC
// offset. Such values are interpreted as wall clock time in the target zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// EnsureTimezone returns t converted into loc. A nil input stays nil.
//
// The conversion keeps the instant: 10:00Z viewed from Europe/Moscow becomes
// 13:00+03:00, not 10:00+03:00. Use Attach for values whose wall clock must be
// kept.
func EnsureTimezone(t *time.Time, loc *time.Location) *time.Time {
	if t == nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	out := t.In(loc)
	return &out
}

// Attach reinterprets the wall clock of t in loc, dropping whatever zone t
// carried before.
func Attach(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// ParseDateTime parses an ISO-8601 value. Values with an offset are converted
// into loc; offset-less values are attached to loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("calmath: empty datetime")
	}
	if loc == nil {
		loc = time.Local
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("calmath: unsupported datetime %q", s)
}

// FirstOfMonth returns 00:00:00 on day 1 of t's month, as seen from loc.
func FirstOfMonth(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = t.Location()
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// AddMonths moves t by n months, wrapping the year. The day is clamped to 1,
// callers only ever pass first-of-month anchors.
func AddMonths(t time.Time, n int) time.Time {
	idx := int(t.Month()) - 1 + n
	year := t.Year() + floorDiv(idx, 12)
	month := time.Month(floorMod(idx, 12) + 1)
	return time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// LastDayOfMonth returns the number of days in the month.
func LastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthWindow returns the inclusive bounds of a calendar month in loc:
// the first instant of day 1 and the last whole second of the last day.
func MonthWindow(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := AddMonths(start, 1).Add(-time.Second)
	return start, end
}

// ISOWeekKey identifies the ISO-8601 week containing t, e.g. "2024-W01".
func ISOWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

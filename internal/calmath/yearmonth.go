package calmath

import (
	"fmt"
	"time"
)

// YearMonth is a calendar month without a day or a zone.
type YearMonth struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// YearMonthOf returns the month t falls into, as seen from loc.
func YearMonthOf(t time.Time, loc *time.Location) YearMonth {
	if loc != nil {
		t = t.In(loc)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// Serial orders months on a single axis: year*12 + month.
func (ym YearMonth) Serial() int {
	return ym.Year*12 + int(ym.Month)
}

// Valid reports whether Month is in 1..12 and Year is positive.
func (ym YearMonth) Valid() bool {
	return ym.Year > 0 && ym.Month >= time.January && ym.Month <= time.December
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.Serial() < other.Serial()
}

// Add moves ym by n months.
func (ym YearMonth) Add(n int) YearMonth {
	t := AddMonths(time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC), n)
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// First returns 00:00 on day 1 of the month in loc.
func (ym YearMonth) First(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, loc)
}

// Days returns the length of the month.
func (ym YearMonth) Days() int {
	return LastDayOfMonth(ym.Year, ym.Month)
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

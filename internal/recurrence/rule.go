// Package recurrence wraps RFC 5545 recurrence rules for the occurrence
// engine. A Rule is immutable and safe to share between goroutines.
package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// epoch anchors rules that carry no DTSTART, so the phase of e.g.
// FREQ=WEEKLY;INTERVAL=2 does not drift between calls.
var epoch = struct {
	year  int
	month time.Month
	day   int
}{2010, time.January, 1}

// Rule is a parsed recurrence descriptor.
type Rule struct {
	raw      string
	opt      rrule.ROption
	hasStart bool
}

// Parse accepts "FREQ=...", "RRULE:FREQ=..." or a two line
// "DTSTART:...\nRRULE:..." value.
func Parse(s string) (*Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("recurrence: empty rule")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var ruleLine string
	var dtstart time.Time
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(strings.ToUpper(line), "DTSTART"):
			t, err := parseDTStart(line)
			if err != nil {
				return nil, fmt.Errorf("recurrence: parse %q: %w", s, err)
			}
			dtstart = t
		case ruleLine == "":
			ruleLine = strings.TrimPrefix(line, "RRULE:")
		default:
			return nil, fmt.Errorf("recurrence: parse %q: more than one RRULE", s)
		}
	}
	if ruleLine == "" {
		return nil, fmt.Errorf("recurrence: parse %q: missing RRULE", s)
	}

	opt, err := rrule.StrToROption(ruleLine)
	if err != nil {
		return nil, fmt.Errorf("recurrence: parse %q: %w", s, err)
	}
	if !dtstart.IsZero() {
		opt.Dtstart = dtstart
	}

	// Build once so invalid combinations are rejected at parse time.
	probe := *opt
	if probe.Dtstart.IsZero() {
		probe.Dtstart = time.Date(epoch.year, epoch.month, epoch.day, 0, 0, 0, 0, time.UTC)
	}
	if _, err := rrule.NewRRule(probe); err != nil {
		return nil, fmt.Errorf("recurrence: invalid rule %q: %w", s, err)
	}

	return &Rule{raw: s, opt: *opt, hasStart: !opt.Dtstart.IsZero()}, nil
}

// MustParse is Parse for literals in tests and seeds.
func MustParse(s string) *Rule {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the rule as it was given.
func (r *Rule) String() string {
	if r == nil {
		return ""
	}
	return r.raw
}

// HasStart reports whether the rule text carried its own DTSTART.
func (r *Rule) HasStart() bool {
	return r != nil && r.hasStart
}

// SubHourly reports whether the rule fires more often than hourly
// (FREQ=MINUTELY or FREQ=SECONDLY).
func (r *Rule) SubHourly() bool {
	return r != nil && (r.opt.Freq == rrule.MINUTELY || r.opt.Freq == rrule.SECONDLY)
}

// Start returns the rule's own DTSTART, if any.
func (r *Rule) Start() (time.Time, bool) {
	if !r.HasStart() {
		return time.Time{}, false
	}
	return r.opt.Dtstart, true
}

// DefaultAnchor returns the epoch date in loc at the wall clock of clock.
// A zero clock yields midnight.
func DefaultAnchor(clock time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	var h, m, s int
	if !clock.IsZero() {
		c := clock.In(loc)
		h, m, s = c.Hour(), c.Minute(), c.Second()
	}
	return time.Date(epoch.year, epoch.month, epoch.day, h, m, s, 0, loc)
}

// Between yields the datetimes generated by the rule that fall inside
// [windowStart, windowEnd], both ends inclusive. dtstart is used unless the
// rule carries its own DTSTART. Values are generated in the location of
// whichever start is used, so a TZID-qualified DTSTART keeps its wall clock
// across DST changes; callers convert the results for display.
//
// The sequence is lazy and finite: iteration stops at the first value past
// windowEnd or when the rule is exhausted (COUNT/UNTIL).
func (r *Rule) Between(windowStart, windowEnd, dtstart time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if r == nil || windowEnd.Before(windowStart) {
			return
		}

		opt := r.opt
		if !r.hasStart {
			opt.Dtstart = dtstart
		}

		rr, err := rrule.NewRRule(opt)
		if err != nil {
			// Parse already built this rule once; only a pathological
			// dtstart can get here.
			return
		}

		next := rr.Iterator()
		for {
			t, ok := next()
			if !ok || t.After(windowEnd) {
				return
			}
			if t.Before(windowStart) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

// Collect drains Between into a slice, stopping after limit values when
// limit is positive. The second result reports whether the limit cut the
// sequence short.
func (r *Rule) Collect(windowStart, windowEnd, dtstart time.Time, limit int) ([]time.Time, bool) {
	out := make([]time.Time, 0)
	truncated := false
	for t := range r.Between(windowStart, windowEnd, dtstart) {
		if limit > 0 && len(out) == limit {
			truncated = true
			break
		}
		out = append(out, t)
	}
	return out, truncated
}

// parseDTStart reads "DTSTART:20260215T090000Z",
// "DTSTART;TZID=Europe/Moscow:20260215T090000" or a date-only value.
func parseDTStart(line string) (time.Time, error) {
	name, value, ok := strings.Cut(line, ":")
	if !ok || value == "" {
		return time.Time{}, fmt.Errorf("malformed %q", line)
	}

	loc := time.UTC
	for _, param := range strings.Split(name, ";")[1:] {
		key, val, _ := strings.Cut(param, "=")
		if strings.EqualFold(key, "TZID") {
			l, err := time.LoadLocation(val)
			if err != nil {
				return time.Time{}, err
			}
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(value, "Z"):
		return time.Parse("20060102T150405Z", value)
	case strings.Contains(value, "T"):
		return time.ParseInLocation("20060102T150405", value, loc)
	default:
		return time.ParseInLocation("20060102", value, loc)
	}
}

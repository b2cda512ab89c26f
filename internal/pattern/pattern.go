// Package pattern turns a schedule pattern into per-day work/off labels for a
// month and groups those labels for display.
package pattern

import (
	"fmt"
	"time"

	"artcrm/internal/calmath"
	"artcrm/internal/model"
)

// WeekLabel labels groups produced for WEEKDAY patterns.
const WeekLabel = "week"

// Group is a run of consecutive days.
type Group struct {
	Length int    `json:"length"`
	Label  string `json:"label"`
}

// DayTypes returns exactly daysInMonth labels, one per day starting at
// startOfMonth.
func DayTypes(startOfMonth time.Time, daysInMonth int, p model.SchedulePattern) ([]model.DayType, error) {
	if daysInMonth < 0 {
		return nil, fmt.Errorf("pattern: negative month length %d", daysInMonth)
	}

	switch p.Mode {
	case model.PatternWeekday:
		return weekdayTypes(startOfMonth, daysInMonth, p)
	case model.PatternAlternating:
		return alternatingTypes(daysInMonth, p)
	}
	return nil, &model.ConfigurationError{
		Pattern: p.Name,
		Fields:  map[string]string{"mode": fmt.Sprintf("unknown mode %q", p.Mode)},
	}
}

func weekdayTypes(startOfMonth time.Time, daysInMonth int, p model.SchedulePattern) ([]model.DayType, error) {
	for _, k := range model.WeekdayKeys {
		if _, ok := p.WeekdayMap[k]; !ok {
			return nil, &model.ConfigurationError{
				Pattern: p.Name,
				Fields:  map[string]string{"weekday_map": "missing key " + k},
			}
		}
	}

	out := make([]model.DayType, daysInMonth)
	for i := range out {
		// AddDate keeps the calendar day stable across DST changes.
		out[i] = p.WeekdayMap[model.WeekdayKey(startOfMonth.AddDate(0, 0, i))]
	}
	return out, nil
}

func alternatingTypes(daysInMonth int, p model.SchedulePattern) ([]model.DayType, error) {
	blocks := p.PatternAfterStart
	if len(blocks) == 0 {
		return nil, &model.ConfigurationError{
			Pattern: p.Name,
			Fields:  map[string]string{"pattern_after_start": "empty"},
		}
	}
	for i, n := range blocks {
		if n <= 0 {
			return nil, &model.ConfigurationError{
				Pattern: p.Name,
				Fields:  map[string]string{"pattern_after_start": fmt.Sprintf("block %d is %d", i+1, n)},
			}
		}
	}

	out := make([]model.DayType, 0, daysInMonth)
	for i := 0; i < p.DaysOffAtStart && len(out) < daysInMonth; i++ {
		out = append(out, model.DayOff)
	}

	work := true
	for idx := 0; len(out) < daysInMonth; idx++ {
		label := model.DayOff
		if work {
			label = model.DayWork
		}
		for n := blocks[idx%len(blocks)]; n > 0 && len(out) < daysInMonth; n-- {
			out = append(out, label)
		}
		work = !work
	}

	if p.LastDayAlwaysWorking && daysInMonth > 0 {
		out[daysInMonth-1] = model.DayWork
	}
	return out, nil
}

// GroupRuns collapses consecutive equal labels, in day order.
func GroupRuns(days []model.DayType) []Group {
	groups := make([]Group, 0)
	for _, d := range days {
		if n := len(groups); n > 0 && groups[n-1].Label == string(d) {
			groups[n-1].Length++
			continue
		}
		groups = append(groups, Group{Length: 1, Label: string(d)})
	}
	return groups
}

// GroupWeeks splits days at ISO week boundaries (Monday starts a week).
func GroupWeeks(startOfMonth time.Time, days []model.DayType) []Group {
	groups := make([]Group, 0)
	lastKey := ""
	for i := range days {
		key := calmath.ISOWeekKey(startOfMonth.AddDate(0, 0, i))
		if n := len(groups); n > 0 && key == lastKey {
			groups[n-1].Length++
			continue
		}
		groups = append(groups, Group{Length: 1, Label: WeekLabel})
		lastKey = key
	}
	return groups
}

// Groups picks the grouping the pattern's mode calls for: ISO weeks for
// WEEKDAY patterns, work/off runs for ALTERNATING ones.
func Groups(startOfMonth time.Time, days []model.DayType, p model.SchedulePattern) []Group {
	if p.Mode == model.PatternWeekday {
		return GroupWeeks(startOfMonth, days)
	}
	return GroupRuns(days)
}

// Month is the expanded view of one pattern over one calendar month.
type Month struct {
	Start  time.Time
	Days   []model.DayType
	Groups []Group
}

// ExpandMonth runs DayTypes and Groups for ym in loc.
func ExpandMonth(ym calmath.YearMonth, loc *time.Location, p model.SchedulePattern) (Month, error) {
	start := ym.First(loc)
	days, err := DayTypes(start, ym.Days(), p)
	if err != nil {
		return Month{}, err
	}
	return Month{Start: start, Days: days, Groups: Groups(start, days, p)}, nil
}

// Split returns group lengths and labels as parallel slices.
func Split(groups []Group) ([]int, []string) {
	lengths := make([]int, len(groups))
	labels := make([]string, len(groups))
	for i, g := range groups {
		lengths[i] = g.Length
		labels[i] = g.Label
	}
	return lengths, labels
}

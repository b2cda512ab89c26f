package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DayType labels one calendar day.
type DayType string

const (
	DayWork     DayType = "work"
	DayOff      DayType = "off"
	DayHoliday  DayType = "holiday"
	DayVacation DayType = "vacation"
	DayTask     DayType = "task"
)

// Valid reports whether t is a known day type.
func (t DayType) Valid() bool {
	switch t {
	case DayWork, DayOff, DayHoliday, DayVacation, DayTask:
		return true
	}
	return false
}

// PatternMode selects which field set of a SchedulePattern is active.
type PatternMode string

const (
	PatternAlternating PatternMode = "alternating"
	PatternWeekday     PatternMode = "weekday"
)

// WeekdayKeys are the keys of a weekday map, Monday first.
var WeekdayKeys = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// WeekdayKey returns the weekday map key for t.
func WeekdayKey(t time.Time) string {
	// time.Sunday is 0; shift so Monday is index 0.
	return WeekdayKeys[(int(t.Weekday())+6)%7]
}

// SchedulePattern is a named work/off day template.
type SchedulePattern struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name" validate:"required,max=100"`
	Description string      `json:"description"`
	Mode        PatternMode `json:"mode" validate:"required,oneof=alternating weekday"`

	// ALTERNATING fields.
	DaysOffAtStart       int   `json:"days_off_at_start" validate:"min=0"`
	PatternAfterStart    []int `json:"pattern_after_start"`
	LastDayAlwaysWorking bool  `json:"last_day_always_working"`

	// WEEKDAY fields.
	WeekdayMap map[string]DayType `json:"weekday_map"`

	// WorkingDayHours is the length of one working day, in quarter hours.
	WorkingDayHours float64 `json:"working_day_duration" validate:"min=0"`
}

// CycleLength is the sum of the alternating blocks; zero in WEEKDAY mode.
func (p SchedulePattern) CycleLength() int {
	if p.Mode != PatternAlternating {
		return 0
	}
	total := 0
	for _, n := range p.PatternAfterStart {
		if n > 0 {
			total += n
		}
	}
	return total
}

// Validate checks that exactly the field set of the active mode is filled.
func (p SchedulePattern) Validate() error {
	errs := map[string]string{}
	addStructErrors(p, errs)

	if q := p.WorkingDayHours * 4; q != math.Trunc(q) {
		errs["working_day_duration"] = "must be a multiple of 0.25 hours"
	}

	switch p.Mode {
	case PatternAlternating:
		if len(p.WeekdayMap) > 0 {
			errs["weekday_map"] = "must be empty in alternating mode"
		}
		if msg := checkBlocks(p.PatternAfterStart); msg != "" {
			errs["pattern_after_start"] = msg
		}
	case PatternWeekday:
		if len(p.PatternAfterStart) > 0 {
			errs["pattern_after_start"] = "must be empty in weekday mode"
		}
		if p.DaysOffAtStart != 0 {
			errs["days_off_at_start"] = "must be 0 in weekday mode"
		}
		if msg := checkWeekdayMap(p.WeekdayMap); msg != "" {
			errs["weekday_map"] = msg
		}
	}

	if len(errs) > 0 {
		return &ConfigurationError{Pattern: p.Name, Fields: errs}
	}
	return nil
}

func checkBlocks(blocks []int) string {
	if len(blocks) == 0 {
		return "needs at least one pair of blocks, e.g. [2,2]"
	}
	if len(blocks)%2 != 0 {
		return "needs an even number of blocks, e.g. [2,2] or [2,1,2,2]"
	}
	for i, n := range blocks {
		if n <= 0 {
			return fmt.Sprintf("block %d must be a positive integer", i+1)
		}
	}
	return ""
}

func checkWeekdayMap(m map[string]DayType) string {
	if m == nil {
		return "required with keys mon..sun"
	}
	var missing []string
	for _, k := range WeekdayKeys {
		if _, ok := m[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return "missing keys: " + strings.Join(missing, ", ")
	}
	for _, k := range WeekdayKeys {
		if v := m[k]; v != DayWork && v != DayOff {
			return fmt.Sprintf("%s must be %q or %q", k, DayWork, DayOff)
		}
	}
	if len(m) != len(WeekdayKeys) {
		return "unknown keys; only mon..sun are allowed"
	}
	return ""
}

// FiveDayWeek is the Mon–Fri work, Sat–Sun off template used to seed the
// default pattern.
func FiveDayWeek(name string) SchedulePattern {
	return SchedulePattern{
		Name:        name,
		Description: "Five-day week: Mon–Fri work, Sat–Sun off.",
		Mode:        PatternWeekday,
		WeekdayMap: map[string]DayType{
			"mon": DayWork,
			"tue": DayWork,
			"wed": DayWork,
			"thu": DayWork,
			"fri": DayWork,
			"sat": DayOff,
			"sun": DayOff,
		},
		PatternAfterStart: []int{},
		WorkingDayHours:   4,
	}
}

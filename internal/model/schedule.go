package model

import (
	"time"

	"artcrm/internal/calmath"
	"artcrm/internal/recurrence"
)

// Schedule is the date part of an event. Exactly one of the four variants
// below drives every event:
//
//	ExactSingle  one datetime
//	ExactRule    a recurrence rule, optionally bounded by End
//	MonthSingle  one calendar month, anchored at its first day
//	MonthSeries  every Interval months from Start to End, both inclusive
type Schedule interface {
	Mode() DateMode
	Kind() RecurrenceKind
	// Span bounds the datetimes the schedule may produce, for store-side
	// window filtering. A nil end means open ended.
	Span(loc *time.Location) (time.Time, *time.Time)
	isSchedule()
}

// ExactSingle fires once at At.
type ExactSingle struct {
	At  time.Time
	End *time.Time
}

// ExactRule fires whenever Rule matches. Start supplies the wall clock of the
// default anchor; End bounds store-side loading only.
type ExactRule struct {
	Rule  string
	Start time.Time
	End   *time.Time
}

// MonthSingle fires once on the first day of Month.
type MonthSingle struct {
	Month calmath.YearMonth
}

// MonthSeries fires on the first day of every Interval-th month.
type MonthSeries struct {
	Interval int
	Start    calmath.YearMonth
	End      calmath.YearMonth
}

func (ExactSingle) Mode() DateMode { return DateModeExactDate }
func (ExactRule) Mode() DateMode   { return DateModeExactDate }
func (MonthSingle) Mode() DateMode { return DateModeNumberOfMonth }
func (MonthSeries) Mode() DateMode { return DateModeNumberOfMonth }

func (ExactSingle) Kind() RecurrenceKind { return KindSingle }
func (ExactRule) Kind() RecurrenceKind   { return KindRRule }
func (MonthSingle) Kind() RecurrenceKind { return KindSingle }
func (MonthSeries) Kind() RecurrenceKind { return KindMonthly }

func (s ExactSingle) Span(*time.Location) (time.Time, *time.Time) {
	if s.End != nil {
		return s.At, s.End
	}
	return s.At, &s.At
}

func (s ExactRule) Span(loc *time.Location) (time.Time, *time.Time) {
	if s.Start.IsZero() {
		return recurrence.DefaultAnchor(time.Time{}, loc), s.End
	}
	return s.Start, s.End
}

func (s MonthSingle) Span(loc *time.Location) (time.Time, *time.Time) {
	at := s.Month.First(loc)
	return at, &at
}

func (s MonthSeries) Span(loc *time.Location) (time.Time, *time.Time) {
	end := s.End.First(loc)
	return s.Start.First(loc), &end
}

func (ExactSingle) isSchedule() {}
func (ExactRule) isSchedule()   {}
func (MonthSingle) isSchedule() {}
func (MonthSeries) isSchedule() {}

// ScheduleFields is the flat, storable form of a Schedule.
type ScheduleFields struct {
	DateMode         DateMode   `json:"date_mode" validate:"omitempty,oneof=exact_date number_of_month"`
	StartsAt         *time.Time `json:"starts_at"`
	EndsAt           *time.Time `json:"ends_at"`
	RRule            string     `json:"rrule,omitempty"`
	RecurringMonthly bool       `json:"is_recurring_monthly"`
	MonthInterval    *int       `json:"month_interval,omitempty" validate:"omitempty,min=1,max=12"`
	MonthYear        *int       `json:"month_year,omitempty" validate:"omitempty,min=1"`
	MonthNumber      *int       `json:"month_number,omitempty" validate:"omitempty,min=1,max=12"`
}

// Flatten converts a Schedule into its flat form. NUMBER_OF_MONTH anchors
// are written as first-of-month datetimes in loc.
func Flatten(s Schedule, loc *time.Location) ScheduleFields {
	switch v := s.(type) {
	case ExactSingle:
		return ScheduleFields{DateMode: DateModeExactDate, StartsAt: timePtr(v.At), EndsAt: v.End}
	case ExactRule:
		f := ScheduleFields{DateMode: DateModeExactDate, RRule: v.Rule, EndsAt: v.End}
		if !v.Start.IsZero() {
			f.StartsAt = timePtr(v.Start)
		}
		return f
	case MonthSingle:
		year, month := v.Month.Year, int(v.Month.Month)
		return ScheduleFields{
			DateMode:    DateModeNumberOfMonth,
			StartsAt:    timePtr(v.Month.First(loc)),
			MonthYear:   &year,
			MonthNumber: &month,
		}
	case MonthSeries:
		interval := v.Interval
		return ScheduleFields{
			DateMode:         DateModeNumberOfMonth,
			StartsAt:         timePtr(v.Start.First(loc)),
			EndsAt:           timePtr(v.End.First(loc)),
			RecurringMonthly: true,
			MonthInterval:    &interval,
		}
	}
	return ScheduleFields{}
}

// Build validates f and returns the matching Schedule. Datetimes are
// normalized into loc first. Any inconsistency yields a *ValidationError.
func (f ScheduleFields) Build(loc *time.Location) (Schedule, error) {
	errs := map[string]string{}
	addStructErrors(f, errs)

	start := calmath.EnsureTimezone(f.StartsAt, loc)
	end := calmath.EnsureTimezone(f.EndsAt, loc)

	mode := f.DateMode
	if mode == "" {
		mode = DateModeExactDate
	}

	var out Schedule
	switch mode {
	case DateModeExactDate:
		if f.RecurringMonthly {
			errs["is_recurring_monthly"] = "only allowed in number_of_month mode"
		}
		if f.MonthInterval != nil {
			errs["month_interval"] = "only allowed in number_of_month mode"
		}
		switch {
		case f.RRule != "":
			if r, err := recurrence.Parse(f.RRule); err != nil {
				errs["rrule"] = err.Error()
			} else if r.SubHourly() {
				// Expansion walks from the anchor epoch.
				errs["rrule"] = "frequencies below HOURLY are not supported"
			}
			rule := ExactRule{Rule: f.RRule, End: end}
			if start != nil {
				rule.Start = *start
			}
			out = rule
		case start != nil:
			if end != nil && end.Before(*start) {
				errs["ends_at"] = "must not be before starts_at"
			}
			out = ExactSingle{At: *start, End: end}
		default:
			errs["starts_at"] = "starts_at or rrule is required in exact_date mode"
		}

	case DateModeNumberOfMonth:
		if f.RRule != "" {
			errs["rrule"] = "not allowed in number_of_month mode"
		}
		if f.RecurringMonthly {
			if f.MonthInterval == nil {
				errs["month_interval"] = "required (1..12) for a recurring month event"
			}
			if start == nil {
				errs["starts_at"] = "required for a recurring month event"
			}
			if end == nil {
				errs["ends_at"] = "required for a recurring month event"
			}
			if start != nil && end != nil {
				s := calmath.YearMonthOf(*start, loc)
				e := calmath.YearMonthOf(*end, loc)
				if e.Before(s) {
					errs["ends_at"] = "must not be earlier than starts_at (by year and month)"
				}
				interval := 0
				if f.MonthInterval != nil {
					interval = *f.MonthInterval
				}
				out = MonthSeries{Interval: interval, Start: s, End: e}
			}
		} else {
			if f.MonthInterval != nil {
				errs["month_interval"] = "only allowed for a recurring month event"
			}
			anchor, ok := monthAnchor(f, start, loc)
			if !ok {
				errs["starts_at"] = "starts_at or month_year+month_number is required"
			}
			out = MonthSingle{Month: anchor}
		}

	default:
		errs["date_mode"] = "unknown mode " + string(mode)
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return out, nil
}

// Decode rebuilds a Schedule from stored fields without rejecting anything.
// Rows that could not pass Build today decode into a variant the occurrence
// engine skips (zero anchors) or fails on (bad rule text).
func (f ScheduleFields) Decode(loc *time.Location) Schedule {
	start := calmath.EnsureTimezone(f.StartsAt, loc)
	end := calmath.EnsureTimezone(f.EndsAt, loc)

	if f.DateMode == DateModeNumberOfMonth {
		if f.RecurringMonthly {
			series := MonthSeries{Interval: 1}
			if f.MonthInterval != nil {
				series.Interval = *f.MonthInterval
			}
			if start != nil {
				series.Start = calmath.YearMonthOf(*start, loc)
			}
			if end != nil {
				series.End = calmath.YearMonthOf(*end, loc)
			}
			return series
		}
		anchor, _ := monthAnchor(f, start, loc)
		return MonthSingle{Month: anchor}
	}

	if f.RRule != "" {
		rule := ExactRule{Rule: f.RRule, End: end}
		if start != nil {
			rule.Start = *start
		}
		return rule
	}
	if start == nil {
		return ExactSingle{}
	}
	return ExactSingle{At: *start, End: end}
}

// monthAnchor prefers explicit month_year/month_number over starts_at.
func monthAnchor(f ScheduleFields, start *time.Time, loc *time.Location) (calmath.YearMonth, bool) {
	if f.MonthYear != nil && f.MonthNumber != nil {
		ym := calmath.YearMonth{Year: *f.MonthYear, Month: time.Month(*f.MonthNumber)}
		return ym, ym.Valid()
	}
	if start != nil {
		return calmath.YearMonthOf(*start, loc), true
	}
	return calmath.YearMonth{}, false
}

func timePtr(t time.Time) *time.Time {
	return &t
}

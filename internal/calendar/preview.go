package calendar

import (
	"context"
	"time"

	"artcrm/internal/calmath"
	"artcrm/internal/model"
	"artcrm/internal/pattern"
)

var weekdayShort = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// PreviewDay is one calendar day of a month preview.
type PreviewDay struct {
	Date       string        `json:"date"`
	Day        int           `json:"day"`
	Weekday    string        `json:"weekday"`
	DayType    model.DayType `json:"day_type"`
	IsToday    bool          `json:"is_today"`
	Overridden bool          `json:"overridden"`
	Comment    string        `json:"comment,omitempty"`
}

type PreviewPattern struct {
	model.SchedulePattern
	CycleLength int `json:"cycle_length"`
}

type PreviewGroups struct {
	Lengths []int    `json:"lengths"`
	Labels  []string `json:"labels"`
}

// Preview is the month view of a user's work schedule.
type Preview struct {
	Year       int            `json:"year"`
	Month      int            `json:"month"`
	ScheduleID int64          `json:"schedule_id"`
	Created    bool           `json:"created"`
	Pattern    PreviewPattern `json:"pattern"`
	Groups     PreviewGroups  `json:"groups"`
	Days       []PreviewDay   `json:"days"`
}

// Preview resolves the user's month schedule, expands its pattern and lays
// per-day overrides on top. Groups come from the pattern alone.
func (s *Service) Preview(ctx context.Context, userID int64, ym calmath.YearMonth) (Preview, error) {
	if _, err := s.stores.Users.FindByID(ctx, userID); err != nil {
		return Preview{}, err
	}
	ms, created, err := s.resolver.ResolveForMonth(ctx, userID, ym.Year, ym.Month)
	if err != nil {
		return Preview{}, err
	}

	month, err := pattern.ExpandMonth(ym, s.loc, *ms.Pattern)
	if err != nil {
		return Preview{}, err
	}

	overrides, err := s.stores.Days.Days(ctx, ms.ID)
	if err != nil {
		return Preview{}, err
	}
	byDay := make(map[int]model.DayOverride, len(overrides))
	for _, o := range overrides {
		byDay[o.Date.Day()] = o
	}

	today := s.now().In(s.loc)
	days := make([]PreviewDay, len(month.Days))
	for i, dayType := range month.Days {
		d := month.Start.AddDate(0, 0, i)
		day := PreviewDay{
			Date:    d.Format("2006-01-02"),
			Day:     d.Day(),
			Weekday: weekdayShort[(int(d.Weekday())+6)%7],
			DayType: dayType,
			IsToday: sameDate(d, today),
		}
		if o, ok := byDay[d.Day()]; ok {
			day.DayType = o.Type
			day.Overridden = true
			day.Comment = o.Comment
		}
		days[i] = day
	}

	lengths, labels := pattern.Split(month.Groups)
	return Preview{
		Year:       ym.Year,
		Month:      int(ym.Month),
		ScheduleID: ms.ID,
		Created:    created,
		Pattern:    PreviewPattern{SchedulePattern: *ms.Pattern, CycleLength: ms.Pattern.CycleLength()},
		Groups:     PreviewGroups{Lengths: lengths, Labels: labels},
		Days:       days,
	}, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

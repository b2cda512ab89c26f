// Package calendar is the request-level service: it loads events and
// overrides for a window, expands them, and applies per-occurrence and
// per-day changes.
package calendar

import (
	"context"
	"fmt"
	"time"

	"artcrm/internal/calmath"
	appLog "artcrm/internal/log"
	"artcrm/internal/model"
	"artcrm/internal/occurrence"
	"artcrm/internal/schedule"
)

type UserStore interface {
	Create(ctx context.Context, username string) (model.User, error)
	FindByID(ctx context.Context, id int64) (model.User, error)
	ListIDs(ctx context.Context) ([]int64, error)
}

type EventStore interface {
	Create(ctx context.Context, ev model.Event) (model.Event, error)
	FindByID(ctx context.Context, id int64) (model.Event, error)
	FindForWindow(ctx context.Context, userID int64, start, end time.Time) ([]model.Event, error)
	UpdateStatus(ctx context.Context, id int64, status model.CompletionStatus) error
	Delete(ctx context.Context, id int64) error
}

type OverrideStore interface {
	Upsert(ctx context.Context, eventID int64, at time.Time, status model.CompletionStatus) (model.EventOverride, error)
	ForEvents(ctx context.Context, eventIDs []int64, start, end time.Time) ([]model.EventOverride, error)
}

type PatternStore interface {
	schedule.PatternStore
	List(ctx context.Context) ([]model.SchedulePattern, error)
}

type DayStore interface {
	UpsertDay(ctx context.Context, d model.DayOverride) (model.DayOverride, error)
	Days(ctx context.Context, monthScheduleID int64) ([]model.DayOverride, error)
}

type Stores struct {
	Users     UserStore
	Events    EventStore
	Overrides OverrideStore
	Patterns  PatternStore
	Days      DayStore
}

type Options struct {
	Location               *time.Location
	MaxOccurrencesPerEvent int
	Workers                int
	// Now is the clock used for is_today; time.Now when nil.
	Now func() time.Time
}

type Service struct {
	stores   Stores
	resolver *schedule.Resolver
	loc      *time.Location
	maxOcc   int
	workers  int
	now      func() time.Time
}

func NewService(stores Stores, resolver *schedule.Resolver, opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		stores:   stores,
		resolver: resolver,
		loc:      loc,
		maxOcc:   opts.MaxOccurrencesPerEvent,
		workers:  opts.Workers,
		now:      now,
	}
}

// Location is the zone every datetime is normalized into.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) CreateUser(ctx context.Context, username string) (model.User, error) {
	if username == "" {
		return model.User{}, &model.ValidationError{Fields: map[string]string{"username": "required"}}
	}
	return s.stores.Users.Create(ctx, username)
}

// Occurrences expands the user's events over [start, end], both inclusive.
// Overrides are read once for the whole window.
func (s *Service) Occurrences(ctx context.Context, userID int64, start, end time.Time) (occurrence.ExpandResult, error) {
	if _, err := s.stores.Users.FindByID(ctx, userID); err != nil {
		return occurrence.ExpandResult{}, err
	}

	start, end = start.In(s.loc), end.In(s.loc)
	if end.Before(start) {
		return occurrence.ExpandResult{}, &model.ValidationError{
			Fields: map[string]string{"to": "must not be before from"},
		}
	}

	events, err := s.stores.Events.FindForWindow(ctx, userID, start, end)
	if err != nil {
		return occurrence.ExpandResult{}, err
	}
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		if ev.Recurring() {
			ids = append(ids, ev.ID)
		}
	}
	overrides, err := s.stores.Overrides.ForEvents(ctx, ids, start, end)
	if err != nil {
		return occurrence.ExpandResult{}, err
	}

	return occurrence.ExpandAll(ctx, events, occurrence.ExpandConfig{
		DisplayLocation:        s.loc,
		RangeStart:             start,
		RangeEnd:               end,
		MaxOccurrencesPerEvent: s.maxOcc,
		Workers:                s.workers,
	}, occurrence.NewOverrideIndex(overrides))
}

// MonthOccurrences expands the user's events over one calendar month.
func (s *Service) MonthOccurrences(ctx context.Context, userID int64, ym calmath.YearMonth) (occurrence.ExpandResult, error) {
	if !ym.Valid() {
		return occurrence.ExpandResult{}, &model.ValidationError{
			Fields: map[string]string{"month": "invalid year/month " + ym.String()},
		}
	}
	start, end := calmath.MonthWindow(ym.Year, ym.Month, s.loc)
	return s.Occurrences(ctx, userID, start, end)
}

// CreateEvent validates in and stores it for the user.
func (s *Service) CreateEvent(ctx context.Context, userID int64, in model.EventInput) (model.EventView, error) {
	if _, err := s.stores.Users.FindByID(ctx, userID); err != nil {
		return model.EventView{}, err
	}
	ev, err := in.Build(s.loc)
	if err != nil {
		return model.EventView{}, err
	}
	ev.UserID = userID

	ev, err = s.stores.Events.Create(ctx, ev)
	if err != nil {
		return model.EventView{}, err
	}
	appLog.Debug("event created", "event_id", ev.ID, "user_id", userID, "kind", ev.Schedule.Kind())
	return ev.View(s.loc), nil
}

func (s *Service) Event(ctx context.Context, id int64) (model.EventView, error) {
	ev, err := s.stores.Events.FindByID(ctx, id)
	if err != nil {
		return model.EventView{}, err
	}
	return ev.View(s.loc), nil
}

// CancelResult says what Cancel did.
type CancelResult struct {
	Deleted  bool                 `json:"deleted"`
	Override *model.EventOverride `json:"override,omitempty"`
}

// Cancel removes one occurrence of a recurring event by recording a
// cancelled override for it. Without an instant, or for an event that
// fires once, the whole event is deleted.
func (s *Service) Cancel(ctx context.Context, eventID int64, at *time.Time) (CancelResult, error) {
	ev, err := s.stores.Events.FindByID(ctx, eventID)
	if err != nil {
		return CancelResult{}, err
	}

	if at == nil || !ev.Recurring() {
		if err := s.stores.Events.Delete(ctx, eventID); err != nil {
			return CancelResult{}, err
		}
		appLog.Info("event deleted", "event_id", eventID)
		return CancelResult{Deleted: true}, nil
	}

	o, err := s.stores.Overrides.Upsert(ctx, eventID, at.In(s.loc), model.StatusCancelled)
	if err != nil {
		return CancelResult{}, err
	}
	appLog.Info("occurrence cancelled", "event_id", eventID, "instance", o.At.Format(time.RFC3339))
	return CancelResult{Override: &o}, nil
}

// StatusResult carries whichever record UpdateStatus changed.
type StatusResult struct {
	Event    *model.EventView     `json:"event,omitempty"`
	Override *model.EventOverride `json:"override,omitempty"`
}

// UpdateStatus sets the status of one occurrence of a recurring event, or of
// the event itself when no instant is given. An instant on an event that
// fires once is rejected.
func (s *Service) UpdateStatus(ctx context.Context, eventID int64, at *time.Time, status model.CompletionStatus) (StatusResult, error) {
	if !status.Valid() {
		return StatusResult{}, &model.ValidationError{
			Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", status)},
		}
	}
	ev, err := s.stores.Events.FindByID(ctx, eventID)
	if err != nil {
		return StatusResult{}, err
	}

	if at != nil && !ev.Recurring() {
		return StatusResult{}, &model.ValidationError{
			Fields: map[string]string{"instance_datetime": "only allowed for recurring events"},
		}
	}

	if at == nil {
		if err := s.stores.Events.UpdateStatus(ctx, eventID, status); err != nil {
			return StatusResult{}, err
		}
		ev.Status = status
		view := ev.View(s.loc)
		return StatusResult{Event: &view}, nil
	}

	o, err := s.stores.Overrides.Upsert(ctx, eventID, at.In(s.loc), status)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Override: &o}, nil
}

func (s *Service) Patterns(ctx context.Context) ([]model.SchedulePattern, error) {
	return s.stores.Patterns.List(ctx)
}

// CreatePattern validates p and stores it.
func (s *Service) CreatePattern(ctx context.Context, p model.SchedulePattern) (model.SchedulePattern, error) {
	if err := p.Validate(); err != nil {
		return model.SchedulePattern{}, err
	}
	return s.stores.Patterns.Create(ctx, p)
}

// ResolveMonth exposes the schedule resolver for jobs.
func (s *Service) ResolveMonth(ctx context.Context, userID int64, ym calmath.YearMonth) (model.MonthSchedule, bool, error) {
	return s.resolver.ResolveForMonth(ctx, userID, ym.Year, ym.Month)
}

// UserIDs lists every user.
func (s *Service) UserIDs(ctx context.Context) ([]int64, error) {
	return s.stores.Users.ListIDs(ctx)
}

// SetDay overrides the day type of one date in the user's schedule,
// resolving the month first.
func (s *Service) SetDay(ctx context.Context, userID int64, date time.Time, dayType model.DayType, comment string) (model.DayOverride, error) {
	if !dayType.Valid() {
		return model.DayOverride{}, &model.ValidationError{
			Fields: map[string]string{"day_type": fmt.Sprintf("unknown day type %q", dayType)},
		}
	}
	if _, err := s.stores.Users.FindByID(ctx, userID); err != nil {
		return model.DayOverride{}, err
	}

	date = date.In(s.loc)
	ms, _, err := s.resolver.ResolveForMonth(ctx, userID, date.Year(), date.Month())
	if err != nil {
		return model.DayOverride{}, err
	}
	return s.stores.Days.UpsertDay(ctx, model.DayOverride{
		MonthScheduleID: ms.ID,
		Date:            time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc),
		Type:            dayType,
		Comment:         comment,
	})
}

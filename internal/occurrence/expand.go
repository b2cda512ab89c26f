// Package occurrence expands event definitions into the concrete
// occurrences that fall inside a time window.
package occurrence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"artcrm/internal/calmath"
	appLog "artcrm/internal/log"
	"artcrm/internal/model"
	"artcrm/internal/recurrence"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	defaultWorkers                = 4
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the canonical timezone. Every datetime is normalized
	// into it before comparison or use as an override key. If nil,
	// time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps rule-based expansion. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int

	// Workers bounds how many events ExpandAll expands concurrently.
	Workers int
}

func (cfg ExpandConfig) normalized() ExpandConfig {
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	cfg.RangeStart = cfg.RangeStart.In(cfg.DisplayLocation)
	cfg.RangeEnd = cfg.RangeEnd.In(cfg.DisplayLocation)
	return cfg
}

func (cfg ExpandConfig) contains(t time.Time) bool {
	return !t.Before(cfg.RangeStart) && !t.After(cfg.RangeEnd)
}

// ExpandResult wraps the expanded occurrences and the events that did not
// expand cleanly.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records events that hit MaxOccurrencesPerEvent.
	TruncatedEvents []int64
	// FailedEvents records events excluded because expansion failed.
	FailedEvents []int64
}

// ExpansionFailure wraps an error raised while expanding one event.
type ExpansionFailure struct {
	EventID int64
	Err     error
}

func (e *ExpansionFailure) Error() string {
	return fmt.Sprintf("expand event %d: %v", e.EventID, e.Err)
}

func (e *ExpansionFailure) Unwrap() error { return e.Err }

// ID returns the stable occurrence identifier: the event id for one-off
// occurrences, "{eventID}_{unix seconds}" for members of a series.
func ID(eventID int64, at time.Time, recurring bool) string {
	id := strconv.FormatInt(eventID, 10)
	if !recurring {
		return id
	}
	return id + "_" + strconv.FormatInt(at.Unix(), 10)
}

// ExpandAll expands every event over the configured window. A failure in one
// event is logged and that event is left out; the rest of the batch is
// still returned. Occurrences are ordered by datetime, then id.
func ExpandAll(ctx context.Context, events []model.Event, cfg ExpandConfig, overrides Index) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	cfg = cfg.normalized()

	type slot struct {
		occurrences []model.Occurrence
		truncated   bool
		err         error
	}
	slots := make([]slot, len(events))

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i := range events {
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			occ, truncated, err := expandSafely(events[i], cfg, overrides)
			slots[i] = slot{occurrences: occ, truncated: truncated, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return result, err
	}

	all := make([]model.Occurrence, 0)
	for i, s := range slots {
		ev := events[i]
		if s.err != nil {
			result.FailedEvents = append(result.FailedEvents, ev.ID)
			appLog.Error("expand: event excluded", s.err,
				"event_id", ev.ID,
				"range_start", cfg.RangeStart.Format(time.RFC3339),
				"range_end", cfg.RangeEnd.Format(time.RFC3339),
			)
			continue
		}
		if s.truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Warn("expand: truncated occurrences due to cap",
				"event_id", ev.ID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		all = append(all, s.occurrences...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].At.Equal(all[j].At) {
			return all[i].At.Before(all[j].At)
		}
		return all[i].ID < all[j].ID
	})
	result.Occurrences = all
	return result, nil
}

// expandSafely turns a panic inside one event's expansion into an error.
func expandSafely(ev model.Event, cfg ExpandConfig, overrides Index) (occ []model.Occurrence, truncated bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			occ, truncated = nil, false
			err = &ExpansionFailure{EventID: ev.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return Expand(ev, cfg, overrides)
}

// Expand produces the occurrences of one event inside the window. It is a
// pure function of the event, the window and the override snapshot. The
// second result reports whether MaxOccurrencesPerEvent cut the list short.
func Expand(ev model.Event, cfg ExpandConfig, overrides Index) ([]model.Occurrence, bool, error) {
	cfg = cfg.normalized()
	loc := cfg.DisplayLocation

	switch s := ev.Schedule.(type) {
	case model.MonthSingle:
		if !s.Month.Valid() {
			return nil, false, nil
		}
		anchor := s.Month.First(loc)
		if !cfg.contains(anchor) {
			return nil, false, nil
		}
		return []model.Occurrence{makeOccurrence(ev, anchor, nil, loc)}, false, nil

	case model.MonthSeries:
		return expandMonthSeries(ev, s, cfg, overrides), false, nil

	case model.ExactSingle:
		if s.At.IsZero() {
			return nil, false, nil
		}
		at := s.At.In(loc)
		if !cfg.contains(at) {
			return nil, false, nil
		}
		return []model.Occurrence{makeOccurrence(ev, at, nil, loc)}, false, nil

	case model.ExactRule:
		return expandRule(ev, s, cfg, overrides)

	case nil:
		return nil, false, &ExpansionFailure{EventID: ev.ID, Err: errors.New("event has no schedule")}
	}
	return nil, false, &ExpansionFailure{EventID: ev.ID, Err: fmt.Errorf("unsupported schedule %T", ev.Schedule)}
}

func expandMonthSeries(ev model.Event, s model.MonthSeries, cfg ExpandConfig, overrides Index) []model.Occurrence {
	// Missing anchors only come from rows written before validation existed.
	if !s.Start.Valid() || !s.End.Valid() {
		return nil
	}
	interval := s.Interval
	if interval < 1 {
		interval = 1
	}

	loc := cfg.DisplayLocation
	seriesEnd := s.End.First(loc)

	out := make([]model.Occurrence, 0)
	for current := s.Start.First(loc); !current.After(seriesEnd); current = calmath.AddMonths(current, interval) {
		if current.After(cfg.RangeEnd) {
			break
		}
		if !cfg.contains(current) {
			continue
		}
		out = append(out, makeOccurrence(ev, current, lookup(overrides, ev.ID, current), loc))
	}
	return out
}

func expandRule(ev model.Event, s model.ExactRule, cfg ExpandConfig, overrides Index) ([]model.Occurrence, bool, error) {
	rule, err := recurrence.Parse(s.Rule)
	if err != nil {
		return nil, false, &ExpansionFailure{EventID: ev.ID, Err: err}
	}

	loc := cfg.DisplayLocation
	anchor := recurrence.DefaultAnchor(s.Start, loc)
	times, truncated := rule.Collect(cfg.RangeStart, cfg.RangeEnd, anchor, cfg.MaxOccurrencesPerEvent)

	out := make([]model.Occurrence, 0, len(times))
	for _, at := range times {
		at = at.In(loc)
		out = append(out, makeOccurrence(ev, at, lookup(overrides, ev.ID, at), loc))
	}
	return out, truncated, nil
}

func lookup(overrides Index, eventID int64, at time.Time) *model.EventOverride {
	if overrides == nil {
		return nil
	}
	if o, ok := overrides.Lookup(eventID, at); ok {
		return &o
	}
	return nil
}

// makeOccurrence builds an immutable occurrence value from the event
// snapshot, the concrete datetime and the matching override, if any.
func makeOccurrence(ev model.Event, at time.Time, override *model.EventOverride, loc *time.Location) model.Occurrence {
	recurring := ev.Recurring()
	occ := model.Occurrence{
		ID:        ID(ev.ID, at, recurring),
		EventID:   ev.ID,
		At:        at,
		Kind:      ev.Schedule.Kind(),
		Recurring: recurring,
		Status:    ev.Status,
		Completed: ev.Completed(),
		Event:     ev.View(loc),
		Override:  override,
	}

	if ev.DurationMinutes != nil {
		end := at.Add(time.Duration(*ev.DurationMinutes) * time.Minute)
		occ.End = &end
	} else if single, ok := ev.Schedule.(model.ExactSingle); ok && single.End != nil {
		end := single.End.In(loc)
		occ.End = &end
	}

	if override != nil {
		occ.Status = override.Status
		occ.Completed = override.Completed
	}
	return occ
}

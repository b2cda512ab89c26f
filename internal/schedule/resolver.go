// Package schedule decides which work pattern governs a user's month.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"artcrm/internal/calmath"
	appLog "artcrm/internal/log"
	"artcrm/internal/model"
)

// DefaultPatternName names the pattern used when a user has no history.
const DefaultPatternName = "Classic"

type PatternStore interface {
	FindByID(ctx context.Context, id int64) (model.SchedulePattern, error)
	FindByName(ctx context.Context, name string) (model.SchedulePattern, error)
	Create(ctx context.Context, p model.SchedulePattern) (model.SchedulePattern, error)
}

type MonthStore interface {
	Find(ctx context.Context, userID int64, ym calmath.YearMonth) (model.MonthSchedule, error)
	LatestBefore(ctx context.Context, userID int64, ym calmath.YearMonth) (model.MonthSchedule, error)
	Create(ctx context.Context, ms model.MonthSchedule) (model.MonthSchedule, error)
}

type Resolver struct {
	patterns    PatternStore
	months      MonthStore
	defaultName string
}

// NewResolver returns a resolver that falls back to the pattern named
// defaultName, or DefaultPatternName when empty.
func NewResolver(patterns PatternStore, months MonthStore, defaultName string) *Resolver {
	if defaultName == "" {
		defaultName = DefaultPatternName
	}
	return &Resolver{patterns: patterns, months: months, defaultName: defaultName}
}

// EnsureDefaultPattern returns the default pattern, creating the five-day
// week template under the default name if it does not exist yet.
func (r *Resolver) EnsureDefaultPattern(ctx context.Context) (model.SchedulePattern, error) {
	p, err := r.patterns.FindByName(ctx, r.defaultName)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.SchedulePattern{}, err
	}

	p, err = r.patterns.Create(ctx, model.FiveDayWeek(r.defaultName))
	if errors.Is(err, model.ErrConflict) {
		// Someone else created it between our read and write.
		return r.patterns.FindByName(ctx, r.defaultName)
	}
	if err != nil {
		return model.SchedulePattern{}, fmt.Errorf("creating default pattern: %w", err)
	}
	appLog.Info("default pattern created", "pattern", p.Name, "pattern_id", p.ID)
	return p, nil
}

// ResolveForMonth returns the user's schedule for (year, month), creating it
// when missing. A new month copies the pattern of the user's latest earlier
// month, or the default pattern when there is none. The bool reports
// whether this call created the row. Concurrent callers converge on one row.
func (r *Resolver) ResolveForMonth(ctx context.Context, userID int64, year int, month time.Month) (model.MonthSchedule, bool, error) {
	ym := calmath.YearMonth{Year: year, Month: month}
	if !ym.Valid() {
		return model.MonthSchedule{}, false, &model.ValidationError{
			Fields: map[string]string{"month": fmt.Sprintf("invalid month %d-%d", year, int(month))},
		}
	}

	ms, err := r.months.Find(ctx, userID, ym)
	if err == nil {
		return r.withPattern(ctx, ms, false)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.MonthSchedule{}, false, err
	}

	patternID, err := r.inheritedPatternID(ctx, userID, ym)
	if err != nil {
		return model.MonthSchedule{}, false, err
	}

	ms, err = r.months.Create(ctx, model.MonthSchedule{UserID: userID, Year: year, Month: month, PatternID: patternID})
	if errors.Is(err, model.ErrConflict) {
		ms, err = r.months.Find(ctx, userID, ym)
		if err != nil {
			return model.MonthSchedule{}, false, fmt.Errorf("refetching month schedule after conflict: %w", err)
		}
		return r.withPattern(ctx, ms, false)
	}
	if err != nil {
		return model.MonthSchedule{}, false, err
	}

	appLog.Info("month schedule created",
		"user_id", userID,
		"month", ym.String(),
		"pattern_id", patternID,
	)
	return r.withPattern(ctx, ms, true)
}

func (r *Resolver) inheritedPatternID(ctx context.Context, userID int64, ym calmath.YearMonth) (int64, error) {
	prev, err := r.months.LatestBefore(ctx, userID, ym)
	if err == nil {
		return prev.PatternID, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return 0, err
	}

	p, err := r.EnsureDefaultPattern(ctx)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (r *Resolver) withPattern(ctx context.Context, ms model.MonthSchedule, created bool) (model.MonthSchedule, bool, error) {
	p, err := r.patterns.FindByID(ctx, ms.PatternID)
	if err != nil {
		return model.MonthSchedule{}, false, fmt.Errorf("loading pattern of %s: %w", ms.YearMonth(), err)
	}
	ms.Pattern = &p
	return ms, created, nil
}

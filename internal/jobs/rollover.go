// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"artcrm/internal/calmath"
	appLog "artcrm/internal/log"
	"artcrm/internal/model"
)

const runTimeout = 4 * time.Minute

// MonthResolver is the slice of the calendar service the rollover needs.
type MonthResolver interface {
	UserIDs(ctx context.Context) ([]int64, error)
	ResolveMonth(ctx context.Context, userID int64, ym calmath.YearMonth) (model.MonthSchedule, bool, error)
}

// RolloverReport summarizes one rollover pass.
type RolloverReport struct {
	Month   calmath.YearMonth
	Users   int
	Created int
	Failed  int
}

// Rollover makes sure every user has a month schedule for the current
// month, so inherited patterns are pinned before anyone asks.
type Rollover struct {
	resolver MonthResolver
	loc      *time.Location
	now      func() time.Time
	cron     *cron.Cron
}

// NewRollover returns an unscheduled rollover job evaluated in loc.
func NewRollover(resolver MonthResolver, loc *time.Location, now func() time.Time) *Rollover {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Rollover{resolver: resolver, loc: loc, now: now}
}

// RunOnce resolves the current month for every user. A failure for one
// user is logged and counted without stopping the pass.
func (r *Rollover) RunOnce(ctx context.Context) (RolloverReport, error) {
	ym := calmath.YearMonthOf(r.now(), r.loc)
	report := RolloverReport{Month: ym}

	ids, err := r.resolver.UserIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("listing users: %w", err)
	}
	report.Users = len(ids)

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, created, err := r.resolver.ResolveMonth(ctx, id, ym)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			appLog.Error("rollover: resolve failed", err, "user_id", id, "month", ym.String())
			continue
		}
		if created {
			report.Created++
		}
	}

	appLog.Info("rollover completed",
		"month", ym.String(),
		"users", report.Users,
		"created", report.Created,
		"failed", report.Failed,
	)
	return report, errors.Join(errs...)
}

// Start schedules RunOnce on a standard 5-field cron line in the rollover's
// timezone. Overlapping runs are skipped.
func (r *Rollover) Start(schedule string) error {
	if r.cron != nil {
		return errors.New("rollover already started")
	}
	c := cron.New(
		cron.WithLocation(r.loc),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		_, _ = r.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("rollover schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	appLog.Info("rollover scheduled", "schedule", schedule, "timezone", r.loc.String())
	return nil
}

// Stop halts the scheduler and waits for a running pass, or for ctx.
func (r *Rollover) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
	r.cron = nil
}

// ValidateSchedule reports whether schedule parses as a standard cron line.
func ValidateSchedule(schedule string) error {
	_, err := cron.ParseStandard(schedule)
	return err
}

// cronLogger routes cron's internal logging into the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"artcrm/internal/model"
)

const eventColumns = `id, user_id, name, description, event_type, category, type_tag, tags,
	amount, is_balance_correction, date_mode, starts_at, ends_at, rrule,
	is_recurring_monthly, month_interval, month_year, month_number,
	duration_minutes, status, is_active, created_at, updated_at`

type SQLiteEventRepository struct {
	db  *sql.DB
	loc *time.Location
}

func NewEventRepository(db *sql.DB, loc *time.Location) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db, loc: locOrLocal(loc)}
}

// Create stores ev under its UserID and returns it with ID and timestamps set.
func (r *SQLiteEventRepository) Create(ctx context.Context, ev model.Event) (model.Event, error) {
	if ev.Schedule == nil {
		return model.Event{}, errors.New("creating event: no schedule")
	}
	tags, err := json.Marshal(nonNilTags(ev.Tags))
	if err != nil {
		return model.Event{}, fmt.Errorf("encoding tags: %w", err)
	}

	now := time.Now().In(r.loc).Truncate(time.Second)
	ev.CreatedAt, ev.UpdatedAt = now, now

	f := model.Flatten(ev.Schedule, r.loc)
	spanStart, spanEnd := ev.Schedule.Span(r.loc)

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO events (user_id, name, description, event_type, category, type_tag, tags,
			amount, is_balance_correction, date_mode, starts_at, ends_at, rrule,
			is_recurring_monthly, month_interval, month_year, month_number,
			span_start, span_end, duration_minutes, status, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.UserID, ev.Name, ev.Description, string(ev.Type), ev.Category, ev.Tag, string(tags),
		toNullInt64(ev.Amount), ev.BalanceCorrection, string(f.DateMode),
		toNullUnix(f.StartsAt), toNullUnix(f.EndsAt), f.RRule,
		f.RecurringMonthly, toNullInt(f.MonthInterval), toNullInt(f.MonthYear), toNullInt(f.MonthNumber),
		toUnix(spanStart), toNullUnix(spanEnd), toNullInt(ev.DurationMinutes),
		string(ev.Status), ev.Active, toUnix(now), toUnix(now),
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("creating event: %w", err)
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return model.Event{}, fmt.Errorf("reading event id: %w", err)
	}
	return ev, nil
}

func (r *SQLiteEventRepository) FindByID(ctx context.Context, id int64) (model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("event %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("finding event by id: %w", err)
	}
	return ev, nil
}

// FindForWindow returns the user's active events whose stored span overlaps
// [start, end]. Events with an open span always qualify once started.
func (r *SQLiteEventRepository) FindForWindow(ctx context.Context, userID int64, start, end time.Time) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE user_id = ? AND is_active = 1
			AND span_start <= ?
			AND (span_end IS NULL OR span_end >= ?)
		ORDER BY id`,
		userID, toUnix(end), toUnix(start),
	)
	if err != nil {
		return nil, fmt.Errorf("finding events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		ev, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpdateStatus sets the status of the event itself.
func (r *SQLiteEventRepository) UpdateStatus(ctx context.Context, id int64, status model.CompletionStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE events SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	return requireAffected(res, "event", id)
}

// Delete removes the event and, by cascade, its overrides.
func (r *SQLiteEventRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	return requireAffected(res, "event", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteEventRepository) scan(s scanner) (model.Event, error) {
	var (
		ev                             model.Event
		evType, dateMode, status, tags string
		amount                         sql.NullInt64
		startsAt, endsAt               sql.NullInt64
		interval, monthYear, monthNum  sql.NullInt64
		duration                       sql.NullInt64
		created, updated               int64
		f                              model.ScheduleFields
	)
	err := s.Scan(
		&ev.ID, &ev.UserID, &ev.Name, &ev.Description, &evType, &ev.Category, &ev.Tag, &tags,
		&amount, &ev.BalanceCorrection, &dateMode, &startsAt, &endsAt, &f.RRule,
		&f.RecurringMonthly, &interval, &monthYear, &monthNum,
		&duration, &status, &ev.Active, &created, &updated,
	)
	if err != nil {
		return model.Event{}, err
	}

	if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil || ev.Tags == nil {
		ev.Tags = []string{}
	}
	ev.Type = model.EventType(evType)
	ev.Status = model.CompletionStatus(status)
	ev.Amount = fromNullInt64(amount)
	ev.DurationMinutes = fromNullInt(duration)
	ev.CreatedAt = fromUnix(created, r.loc)
	ev.UpdatedAt = fromUnix(updated, r.loc)

	f.DateMode = model.DateMode(dateMode)
	f.StartsAt = fromNullUnix(startsAt, r.loc)
	f.EndsAt = fromNullUnix(endsAt, r.loc)
	f.MonthInterval = fromNullInt(interval)
	f.MonthYear = fromNullInt(monthYear)
	f.MonthNumber = fromNullInt(monthNum)
	ev.Schedule = f.Decode(r.loc)
	return ev, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func requireAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, model.ErrNotFound)
	}
	return nil
}

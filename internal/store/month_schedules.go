package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"artcrm/internal/calmath"
	"artcrm/internal/model"
)

const dateLayout = "2006-01-02"

type SQLiteMonthScheduleRepository struct {
	db  *sql.DB
	loc *time.Location
}

func NewMonthScheduleRepository(db *sql.DB, loc *time.Location) *SQLiteMonthScheduleRepository {
	return &SQLiteMonthScheduleRepository{db: db, loc: locOrLocal(loc)}
}

// Find returns the user's schedule for exactly ym.
func (r *SQLiteMonthScheduleRepository) Find(ctx context.Context, userID int64, ym calmath.YearMonth) (model.MonthSchedule, error) {
	var ms model.MonthSchedule
	var month int
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, year, month, pattern_id FROM month_schedules
		WHERE user_id = ? AND year = ? AND month = ?`,
		userID, ym.Year, int(ym.Month),
	).Scan(&ms.ID, &ms.UserID, &ms.Year, &month, &ms.PatternID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MonthSchedule{}, fmt.Errorf("month schedule %d/%s: %w", userID, ym, model.ErrNotFound)
	}
	if err != nil {
		return model.MonthSchedule{}, fmt.Errorf("finding month schedule: %w", err)
	}
	ms.Month = time.Month(month)
	return ms, nil
}

// LatestBefore returns the user's most recent schedule strictly earlier
// than ym.
func (r *SQLiteMonthScheduleRepository) LatestBefore(ctx context.Context, userID int64, ym calmath.YearMonth) (model.MonthSchedule, error) {
	var ms model.MonthSchedule
	var month int
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, year, month, pattern_id FROM month_schedules
		WHERE user_id = ? AND (year * 12 + month) < ?
		ORDER BY year DESC, month DESC
		LIMIT 1`,
		userID, ym.Serial(),
	).Scan(&ms.ID, &ms.UserID, &ms.Year, &month, &ms.PatternID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MonthSchedule{}, fmt.Errorf("month schedule before %s for user %d: %w", ym, userID, model.ErrNotFound)
	}
	if err != nil {
		return model.MonthSchedule{}, fmt.Errorf("finding previous month schedule: %w", err)
	}
	ms.Month = time.Month(month)
	return ms, nil
}

// Create inserts ms. An existing (user, year, month) row yields
// model.ErrConflict.
func (r *SQLiteMonthScheduleRepository) Create(ctx context.Context, ms model.MonthSchedule) (model.MonthSchedule, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO month_schedules (user_id, year, month, pattern_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ms.UserID, ms.Year, int(ms.Month), ms.PatternID, toUnix(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.MonthSchedule{}, fmt.Errorf("creating month schedule %s: %w", ms.YearMonth(), model.ErrConflict)
		}
		return model.MonthSchedule{}, fmt.Errorf("creating month schedule: %w", err)
	}
	if ms.ID, err = res.LastInsertId(); err != nil {
		return model.MonthSchedule{}, fmt.Errorf("reading month schedule id: %w", err)
	}
	return ms, nil
}

// UpsertDay sets the day type of one date in a month schedule.
func (r *SQLiteMonthScheduleRepository) UpsertDay(ctx context.Context, d model.DayOverride) (model.DayOverride, error) {
	date := d.Date.In(r.loc).Format(dateLayout)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO day_overrides (month_schedule_id, date, day_type, comment)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (month_schedule_id, date) DO UPDATE SET
			day_type = excluded.day_type,
			comment = excluded.comment`,
		d.MonthScheduleID, date, string(d.Type), d.Comment,
	)
	if err != nil {
		return model.DayOverride{}, fmt.Errorf("upserting day override: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM day_overrides WHERE month_schedule_id = ? AND date = ?`,
		d.MonthScheduleID, date,
	).Scan(&d.ID)
	if err != nil {
		return model.DayOverride{}, fmt.Errorf("reading day override id: %w", err)
	}
	d.Date, _ = time.ParseInLocation(dateLayout, date, r.loc)
	return d, nil
}

// Days returns the day overrides of a month schedule, by date.
func (r *SQLiteMonthScheduleRepository) Days(ctx context.Context, monthScheduleID int64) ([]model.DayOverride, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, month_schedule_id, date, day_type, comment FROM day_overrides
		WHERE month_schedule_id = ? ORDER BY date`, monthScheduleID)
	if err != nil {
		return nil, fmt.Errorf("finding day overrides: %w", err)
	}
	defer rows.Close()

	days := make([]model.DayOverride, 0)
	for rows.Next() {
		var (
			d             model.DayOverride
			date, dayType string
		)
		if err := rows.Scan(&d.ID, &d.MonthScheduleID, &date, &dayType, &d.Comment); err != nil {
			return nil, fmt.Errorf("scanning day override: %w", err)
		}
		if d.Date, err = time.ParseInLocation(dateLayout, date, r.loc); err != nil {
			return nil, fmt.Errorf("parsing day override date %q: %w", date, err)
		}
		d.Type = model.DayType(dayType)
		days = append(days, d)
	}
	return days, rows.Err()
}

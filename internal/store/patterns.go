package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"artcrm/internal/model"
)

const patternColumns = `id, name, description, mode, days_off_at_start, pattern_after_start,
	last_day_always_working, weekday_map, working_day_duration`

type SQLitePatternRepository struct {
	db *sql.DB
}

func NewPatternRepository(db *sql.DB) *SQLitePatternRepository {
	return &SQLitePatternRepository{db: db}
}

// Create inserts p. A duplicate name yields model.ErrConflict.
func (r *SQLitePatternRepository) Create(ctx context.Context, p model.SchedulePattern) (model.SchedulePattern, error) {
	blocks, err := json.Marshal(nonNilBlocks(p.PatternAfterStart))
	if err != nil {
		return model.SchedulePattern{}, fmt.Errorf("encoding pattern blocks: %w", err)
	}
	weekdays, err := json.Marshal(nonNilWeekdays(p.WeekdayMap))
	if err != nil {
		return model.SchedulePattern{}, fmt.Errorf("encoding weekday map: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO schedule_patterns (name, description, mode, days_off_at_start,
			pattern_after_start, last_day_always_working, weekday_map, working_day_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, string(p.Mode), p.DaysOffAtStart,
		string(blocks), p.LastDayAlwaysWorking, string(weekdays), p.WorkingDayHours,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.SchedulePattern{}, fmt.Errorf("creating pattern %q: %w", p.Name, model.ErrConflict)
		}
		return model.SchedulePattern{}, fmt.Errorf("creating pattern: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return model.SchedulePattern{}, fmt.Errorf("reading pattern id: %w", err)
	}
	return p, nil
}

func (r *SQLitePatternRepository) FindByID(ctx context.Context, id int64) (model.SchedulePattern, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM schedule_patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SchedulePattern{}, fmt.Errorf("pattern %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.SchedulePattern{}, fmt.Errorf("finding pattern by id: %w", err)
	}
	return p, nil
}

func (r *SQLitePatternRepository) FindByName(ctx context.Context, name string) (model.SchedulePattern, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM schedule_patterns WHERE name = ?`, name)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SchedulePattern{}, fmt.Errorf("pattern %q: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return model.SchedulePattern{}, fmt.Errorf("finding pattern by name: %w", err)
	}
	return p, nil
}

func (r *SQLitePatternRepository) List(ctx context.Context) ([]model.SchedulePattern, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+patternColumns+` FROM schedule_patterns ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	defer rows.Close()

	patterns := make([]model.SchedulePattern, 0)
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func scanPattern(s scanner) (model.SchedulePattern, error) {
	var (
		p                model.SchedulePattern
		mode             string
		blocks, weekdays string
	)
	err := s.Scan(&p.ID, &p.Name, &p.Description, &mode, &p.DaysOffAtStart,
		&blocks, &p.LastDayAlwaysWorking, &weekdays, &p.WorkingDayHours)
	if err != nil {
		return model.SchedulePattern{}, err
	}
	p.Mode = model.PatternMode(mode)
	if err := json.Unmarshal([]byte(blocks), &p.PatternAfterStart); err != nil {
		return model.SchedulePattern{}, fmt.Errorf("decoding pattern blocks: %w", err)
	}
	if err := json.Unmarshal([]byte(weekdays), &p.WeekdayMap); err != nil {
		return model.SchedulePattern{}, fmt.Errorf("decoding weekday map: %w", err)
	}
	if len(p.WeekdayMap) == 0 {
		p.WeekdayMap = nil
	}
	return p, nil
}

func nonNilBlocks(b []int) []int {
	if b == nil {
		return []int{}
	}
	return b
}

func nonNilWeekdays(m map[string]model.DayType) map[string]model.DayType {
	if m == nil {
		return map[string]model.DayType{}
	}
	return m
}

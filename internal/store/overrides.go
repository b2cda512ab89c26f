package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"artcrm/internal/model"
)

type SQLiteOverrideRepository struct {
	db  *sql.DB
	loc *time.Location
}

func NewOverrideRepository(db *sql.DB, loc *time.Location) *SQLiteOverrideRepository {
	return &SQLiteOverrideRepository{db: db, loc: locOrLocal(loc)}
}

// Upsert records status for the occurrence of eventID at instant at,
// creating the override row if none exists. Completed follows status.
func (r *SQLiteOverrideRepository) Upsert(ctx context.Context, eventID int64, at time.Time, status model.CompletionStatus) (model.EventOverride, error) {
	now := time.Now().In(r.loc).Truncate(time.Second)
	completed := status == model.StatusComplete

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_overrides (event_id, instance_at, status, is_completed, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id, instance_at) DO UPDATE SET
			status = excluded.status,
			is_completed = excluded.is_completed,
			modified_at = excluded.modified_at`,
		eventID, toUnix(at), string(status), completed, toUnix(now),
	)
	if err != nil {
		return model.EventOverride{}, fmt.Errorf("upserting override: %w", err)
	}
	return r.Find(ctx, eventID, at)
}

// Find returns the override of one occurrence.
func (r *SQLiteOverrideRepository) Find(ctx context.Context, eventID int64, at time.Time) (model.EventOverride, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, instance_at, status, is_completed, modified_at
		FROM event_overrides WHERE event_id = ? AND instance_at = ?`,
		eventID, toUnix(at))
	o, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EventOverride{}, fmt.Errorf("override %d@%d: %w", eventID, at.Unix(), model.ErrNotFound)
	}
	if err != nil {
		return model.EventOverride{}, fmt.Errorf("finding override: %w", err)
	}
	return o, nil
}

// ForEvents loads the overrides of the given events whose instant lies in
// [start, end], in one query.
func (r *SQLiteOverrideRepository) ForEvents(ctx context.Context, eventIDs []int64, start, end time.Time) ([]model.EventOverride, error) {
	out := make([]model.EventOverride, 0)
	if len(eventIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]any, 0, len(eventIDs)+2)
	for _, id := range eventIDs {
		args = append(args, id)
	}
	args = append(args, toUnix(start), toUnix(end))

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, instance_at, status, is_completed, modified_at
		FROM event_overrides
		WHERE event_id IN (`+placeholders+`) AND instance_at BETWEEN ? AND ?
		ORDER BY event_id, instance_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("finding overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *SQLiteOverrideRepository) scan(s scanner) (model.EventOverride, error) {
	var (
		o              model.EventOverride
		at, modifiedAt int64
		status         string
	)
	if err := s.Scan(&o.ID, &o.EventID, &at, &status, &o.Completed, &modifiedAt); err != nil {
		return model.EventOverride{}, err
	}
	o.At = fromUnix(at, r.loc)
	o.ModifiedAt = fromUnix(modifiedAt, r.loc)
	o.Status = model.CompletionStatus(status)
	return o, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"artcrm/internal/model"
)

type SQLiteUserRepository struct {
	db  *sql.DB
	loc *time.Location
}

func NewUserRepository(db *sql.DB, loc *time.Location) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db, loc: locOrLocal(loc)}
}

func (r *SQLiteUserRepository) Create(ctx context.Context, username string) (model.User, error) {
	now := time.Now().In(r.loc).Truncate(time.Second)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, created_at) VALUES (?, ?)`, username, toUnix(now))
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("creating user %q: %w", username, model.ErrConflict)
		}
		return model.User{}, fmt.Errorf("creating user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("reading user id: %w", err)
	}
	return model.User{ID: id, Username: username, CreatedAt: now}, nil
}

func (r *SQLiteUserRepository) FindByID(ctx context.Context, id int64) (model.User, error) {
	var (
		u       model.User
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("finding user by id: %w", err)
	}
	u.CreatedAt = fromUnix(created, r.loc)
	return u, nil
}

// ListIDs returns every user id in ascending order.
func (r *SQLiteUserRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type UserRepo interface {
	EnsureUser(ctx context.Context, userID int64, username string) error
	IsReseller(ctx context.Context, userID int64) (bool, error)
}

type userRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// EnsureUser inserts the user if it does not exist yet.
func (r *userRepo) EnsureUser(ctx context.Context, userID int64, username string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users (user_id, username) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING",
		userID, username,
	)
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", userID, err)
	}
	return nil
}

// IsReseller is false for unknown users.
func (r *userRepo) IsReseller(ctx context.Context, userID int64) (bool, error) {
	var reseller bool
	err := r.db.QueryRowContext(ctx, "SELECT is_reseller FROM users WHERE user_id = $1", userID).Scan(&reseller)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reseller flag %d: %w", userID, err)
	}
	return reseller, nil
}

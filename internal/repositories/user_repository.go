package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"im-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository exposes the parts of the user record owned by presence and
// read receipts. Profile CRUD lives elsewhere.
type UserRepository interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
	// SetOnline writes the denormalized online flag, creating a bare record
	// for ids the mirror has not seen yet.
	SetOnline(ctx context.Context, userID int64, online bool) error
	ListOnline(ctx context.Context) ([]models.User, error)
}

// UserRepo is a sqlx-backed repository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, username, nickname, avatar, is_online, show_read_status, last_login_time`

func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *UserRepo) SetOnline(ctx context.Context, userID int64, online bool) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, is_online, last_login_time)
        VALUES ($1, $2, NOW())
        ON CONFLICT (id) DO UPDATE SET is_online = EXCLUDED.is_online,
            last_login_time = CASE WHEN EXCLUDED.is_online THEN NOW() ELSE users.last_login_time END`,
		userID, online)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE is_online = TRUE ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	return users, nil
}

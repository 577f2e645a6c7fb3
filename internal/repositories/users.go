package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/burakerenkisapro1122/bchat/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username taken")
)

// UserRepository abstracts user persistence and lookup.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (models.User, error)
	GetByID(ctx context.Context, id int) (models.User, error)
	CreateUser(ctx context.Context, username string) (models.User, error)
	ListOthers(ctx context.Context, excludeID int) ([]models.User, error)
	BulkUsers(ctx context.Context, ids []int) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetByUsername looks a user up by their unique username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, last_seen, created_at FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetByID fetches a single user, used to resolve sender profiles for
// live-appended messages.
func (r *UserRepo) GetByID(ctx context.Context, id int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, last_seen, created_at FROM users WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// CreateUser inserts a new user row. A concurrent insert of the same
// username surfaces as ErrUsernameTaken.
func (r *UserRepo) CreateUser(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (username) VALUES ($1) RETURNING id, username, last_seen, created_at`, username).
		StructScan(&user)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, err
	}
	return user, nil
}

// ListOthers returns every user except the given one, for the conversation
// roster.
func (r *UserRepo) ListOthers(ctx context.Context, excludeID int) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT id, username, last_seen, created_at FROM users WHERE id<>$1 ORDER BY username ASC`, excludeID)
	return users, err
}

// BulkUsers fetches multiple users in one query.
func (r *UserRepo) BulkUsers(ctx context.Context, ids []int) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, username, last_seen, created_at FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var users []models.User
	err = r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...)
	return users, err
}

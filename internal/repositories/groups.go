package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/burakerenkisapro1122/bchat/internal/models"
)

var ErrGroupNotFound = errors.New("group not found")

// GroupRepository abstracts group persistence and membership.
type GroupRepository interface {
	CreateGroup(ctx context.Context, name string, creatorID int) (models.Group, error)
	AddMember(ctx context.Context, groupID, userID int) error
	ListGroups(ctx context.Context) ([]models.Group, error)
	GetGroup(ctx context.Context, groupID int) (models.Group, error)
	IsMember(ctx context.Context, groupID, userID int) (bool, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup creates a group and the creator's membership atomically.
func (r *GroupRepo) CreateGroup(ctx context.Context, name string, creatorID int) (models.Group, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var group models.Group
	if err = tx.QueryRowxContext(ctx, `INSERT INTO groups (name) VALUES ($1) RETURNING id, name, created_at`, name).
		StructScan(&group); err != nil {
		return models.Group{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, group.ID, creatorID); err != nil {
		return models.Group{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// AddMember records a membership. Membership is additive only, so repeated
// inserts are a no-op.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
        ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID)
	return err
}

// ListGroups returns every group for the conversation roster. Membership is
// not filtered here: it is delegated to the subscription layer.
func (r *GroupRepo) ListGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups, `SELECT id, name, created_at FROM groups ORDER BY created_at ASC`)
	return groups, err
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT id, name, created_at FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// IsMember checks membership.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, userID)
	return exists, err
}

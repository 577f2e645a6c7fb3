package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/burakerenkisapro1122/bchat/internal/models"
)

// MessageRepository defines interactions with the shared message log.
type MessageRepository interface {
	CreateDirectMessage(ctx context.Context, senderID, receiverID int, content string) (models.Message, error)
	CreateGroupMessage(ctx context.Context, senderID, groupID int, content string) (models.Message, error)
	ListDirectMessages(ctx context.Context, userID, otherID int) ([]models.Message, error)
	ListGroupMessages(ctx context.Context, groupID int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateDirectMessage appends a direct message to the log.
func (r *MessageRepo) CreateDirectMessage(ctx context.Context, senderID, receiverID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, content) VALUES ($1, $2, $3)
        RETURNING id, sender_id, receiver_id, group_id, content, created_at`, senderID, receiverID, content).
		StructScan(&msg)
	return msg, err
}

// CreateGroupMessage appends a group message to the log.
func (r *MessageRepo) CreateGroupMessage(ctx context.Context, senderID, groupID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, group_id, content) VALUES ($1, $2, $3)
        RETURNING id, sender_id, receiver_id, group_id, content, created_at`, senderID, groupID, content).
		StructScan(&msg)
	return msg, err
}

// ListDirectMessages returns the history of a direct conversation in both
// directions, ordered by creation time with insertion order breaking ties.
func (r *MessageRepo) ListDirectMessages(ctx context.Context, userID, otherID int) ([]models.Message, error) {
	query := `SELECT id, sender_id, receiver_id, group_id, content, created_at FROM messages
        WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
        ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, userID, otherID)
	return msgs, err
}

// ListGroupMessages returns a group's history, ordered by creation time with
// insertion order breaking ties.
func (r *MessageRepo) ListGroupMessages(ctx context.Context, groupID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, sender_id, receiver_id, group_id, content, created_at FROM messages
        WHERE group_id=$1 ORDER BY created_at ASC, id ASC`, groupID)
	return msgs, err
}

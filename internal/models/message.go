package models

import "time"

// Message is one row of the shared message log. Exactly one of ReceiverID
// and GroupID is set: ReceiverID for a direct message, GroupID for a group
// message. Rows are immutable once inserted.
type Message struct {
	ID         int       `db:"id" json:"id"`
	SenderID   int       `db:"sender_id" json:"sender_id"`
	ReceiverID *int      `db:"receiver_id" json:"receiver_id,omitempty"`
	GroupID    *int      `db:"group_id" json:"group_id,omitempty"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// IsGroup reports whether the message belongs to a group conversation.
func (m Message) IsGroup() bool {
	return m.GroupID != nil
}

// MessageView is a message with its sender profile resolved for display.
// The change feed delivers bare rows, so live-appended messages are joined
// against the user table before they reach the read model.
type MessageView struct {
	Message
	SenderUsername string `json:"sender_username,omitempty"`
}

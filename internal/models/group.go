package models

import "time"

// Group is a named conversation shared by its members.
type Group struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GroupMember joins users to groups. Membership is additive only.
type GroupMember struct {
	GroupID int `db:"group_id" json:"group_id"`
	UserID  int `db:"user_id" json:"user_id"`
}

package models

import "time"

// User is an identity created on first login by username.
type User struct {
	ID        int        `db:"id" json:"id"`
	Username  string     `db:"username" json:"username"`
	LastSeen  *time.Time `db:"last_seen" json:"last_seen,omitempty"` // reserved, no behavior attached
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

package models

import "time"

// User represents a user account.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Session represents a user session.
type Session struct {
	Token        string    `db:"token" json:"token"`
	UserID       int64     `db:"user_id" json:"user_id"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	LastActivity time.Time `db:"last_activity" json:"last_activity"`
}

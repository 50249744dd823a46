package storage

import (
	"context"
	"time"

	"budget-tracker/internal/models"
)

// CreateSession creates a new session for a user.
func (db *DB) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, expires_at, last_activity) VALUES (?, ?, ?, ?)",
		token, userID, expiresAt.UTC(), time.Now().UTC(),
	)
	return translate(err)
}

// SessionInfo holds session validation data.
type SessionInfo struct {
	User         *models.User
	LastActivity time.Time
	ExpiresAt    time.Time
}

// ValidateSessionWithInfo checks if a session token is valid and returns session details.
// Unknown and expired tokens both yield models.ErrNotFound.
func (db *DB) ValidateSessionWithInfo(ctx context.Context, token string) (*SessionInfo, error) {
	var row struct {
		models.User
		LastActivity time.Time `db:"last_activity"`
		ExpiresAt    time.Time `db:"expires_at"`
	}
	err := db.conn.GetContext(ctx, &row, `
		SELECT u.id, u.username, u.email, u.password_hash, u.created_at, s.last_activity, s.expires_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = ?
	`, token)
	if err != nil {
		return nil, translate(err)
	}
	if !row.ExpiresAt.After(time.Now()) {
		return nil, models.ErrNotFound
	}

	user := row.User
	return &SessionInfo{
		User:         &user,
		LastActivity: row.LastActivity,
		ExpiresAt:    row.ExpiresAt,
	}, nil
}

// RenewSession updates the last_activity and expires_at for a session.
func (db *DB) RenewSession(ctx context.Context, token string, newExpiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sessions SET last_activity = ?, expires_at = ? WHERE token = ?",
		time.Now().UTC(), newExpiresAt.UTC(), token,
	)
	return err
}

// DeleteSession removes a session by token.
func (db *DB) DeleteSession(ctx context.Context, token string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// CleanExpiredSessions removes all expired sessions and reports how many were dropped.
func (db *DB) CleanExpiredSessions(ctx context.Context) (int64, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

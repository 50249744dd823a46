package storage

import (
	"context"
	"fmt"
	"time"

	"budget-tracker/internal/models"

	"github.com/jmoiron/sqlx"
)

const userColumns = "id, username, email, password_hash, created_at"

// CreateUser inserts a user. It fails with models.ErrConflict when the
// username or the email is already taken.
func (db *DB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	var id int64
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		var taken int
		if err := tx.GetContext(ctx, &taken,
			"SELECT COUNT(*) FROM users WHERE username = ? OR email = ?",
			username, email,
		); err != nil {
			return fmt.Errorf("check existing user: %w", err)
		}
		if taken > 0 {
			return models.ErrConflict
		}

		result, err := tx.ExecContext(ctx,
			"INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
			username, email, passwordHash, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", translate(err))
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by exact email match.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, "email = ?", email)
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.getUser(ctx, "username = ?", username)
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	if err := db.conn.GetContext(ctx, &u, "SELECT "+userColumns+" FROM users WHERE "+where, arg); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM users")
	return count, err
}

package storage

import (
	"context"
	"database/sql"
	"time"
)

// ApiKeyRepository resolves API credentials to user ids.
type ApiKeyRepository struct {
	db *DB
}

// NewApiKeyRepository creates a new ApiKeyRepository.
func NewApiKeyRepository(db *DB) *ApiKeyRepository {
	return &ApiKeyRepository{db: db}
}

// GetUserID returns the user id a key authorizes, or false when the key is
// unknown.
func (r *ApiKeyRepository) GetUserID(ctx context.Context, key string) (int64, bool, error) {
	var userID int64
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM api_keys WHERE key = ?`, key).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return userID, true, nil
}

// Upsert stores a key for a user, replacing any existing row.
func (r *ApiKeyRepository) Upsert(ctx context.Context, key string, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (key, user_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET user_id = excluded.user_id`,
		key, userID, time.Now())
	return err
}

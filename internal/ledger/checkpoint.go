package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetCheckpoint stores value under key, replacing any previous value.
func (db *DB) SetCheckpoint(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO checkpoints (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Checkpoint returns the value stored under key. ok is false when the key was
// never set.
func (db *DB) Checkpoint(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps one quota_state row per (platform, credential, date).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Reserve creates the day's row at zero if missing, then increments it only when the
// result stays within limit. The guarded UPDATE is the compare-and-set.
func (s *SQLiteStore) Reserve(ctx context.Context, key Key, count, limit int) (int, bool, error) {
	now := time.Now().UTC()

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO quota_state (platform, credential_id, date, writes_used, writes_limit, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, key.Platform, key.CredentialID, key.Date, limit, now); err != nil {
		return 0, false, fmt.Errorf("failed to initialize quota row: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE quota_state
		SET writes_used = writes_used + ?, writes_limit = ?, updated_at = ?
		WHERE platform = ? AND credential_id = ? AND date = ? AND writes_used + ? <= ?
	`, count, limit, now, key.Platform, key.CredentialID, key.Date, count, limit)
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve quota: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	used, err := s.Usage(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return max(0, limit-used), rows == 1, nil
}

func (s *SQLiteStore) Release(ctx context.Context, key Key, count int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE quota_state
		SET writes_used = MAX(0, writes_used - ?), updated_at = ?
		WHERE platform = ? AND credential_id = ? AND date = ?
	`, count, time.Now().UTC(), key.Platform, key.CredentialID, key.Date)
	if err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Usage(ctx context.Context, key Key) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx, `
		SELECT writes_used FROM quota_state WHERE platform = ? AND credential_id = ? AND date = ?
	`, key.Platform, key.CredentialID, key.Date).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota usage: %w", err)
	}
	return used, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// GetMeta returns the value stored under key, and whether it exists.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta stores the value under key, replacing any previous value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// IncrementMeta treats the value under key as a counter and bumps it by one
// atomically, returning the new count. Missing values count from zero.
func (s *Store) IncrementMeta(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO meta (key, value) VALUES ($1, '1')
		ON CONFLICT (key) DO UPDATE
			SET value = (COALESCE(NULLIF(meta.value, '')::BIGINT, 0) + 1)::TEXT
		RETURNING value::BIGINT
	`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment meta %s: %w", key, err)
	}
	return n, nil
}

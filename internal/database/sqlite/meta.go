package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// GetMeta returns the value stored under key, and whether it exists.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", key).Scan(&value)
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
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// IncrementMeta treats the value under key as a counter and bumps it by one,
// returning the new count. Missing or non-numeric values count from zero.
func (s *Store) IncrementMeta(ctx context.Context, key string) (int64, error) {
	value, _, err := s.GetMeta(ctx, key)
	if err != nil {
		return 0, err
	}
	n, _ := strconv.ParseInt(value, 10, 64)
	n++
	if err := s.SetMeta(ctx, key, strconv.FormatInt(n, 10)); err != nil {
		return 0, err
	}
	return n, nil
}

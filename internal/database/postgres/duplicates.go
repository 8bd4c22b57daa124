package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adsamcik/riposte-index/internal/database"
)

// InsertDuplicate records a new pair in canonical order with status pending.
// Returns false without error when the pair is already tracked in any status,
// so resolved pairs never resurface.
func (s *Store) InsertDuplicate(ctx context.Context, pd *database.PotentialDuplicate) (bool, error) {
	lo, hi := database.CanonicalPair(pd.ItemID1, pd.ItemID2)
	pd.ItemID1, pd.ItemID2 = lo, hi
	if pd.Status == "" {
		pd.Status = database.DuplicatePending
	}
	if pd.CreatedAt.IsZero() {
		pd.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO potential_duplicates (item_id_1, item_id_2, hamming_distance,
			method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id_1, item_id_2) DO NOTHING
		RETURNING id
	`, pd.ItemID1, pd.ItemID2, pd.HammingDistance, string(pd.Method),
		string(pd.Status), pd.CreatedAt).Scan(&pd.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert duplicate pair: %w", err)
	}
	return true, nil
}

// GetDuplicate resolves a pair by id.
func (s *Store) GetDuplicate(ctx context.Context, id int64) (*database.PotentialDuplicate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, item_id_1, item_id_2, hamming_distance, method, status,
			created_at, resolved_at
		FROM potential_duplicates
		WHERE id = $1
	`, id)

	pd, err := scanDuplicate(row.Scan)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	return pd, err
}

// ListDuplicatesByStatus returns pairs with the given status, oldest first.
func (s *Store) ListDuplicatesByStatus(ctx context.Context, status database.DuplicateStatus) ([]database.PotentialDuplicate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id_1, item_id_2, hamming_distance, method, status,
			created_at, resolved_at
		FROM potential_duplicates
		WHERE status = $1
		ORDER BY id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query duplicate pairs: %w", err)
	}
	defer rows.Close()

	var pairs []database.PotentialDuplicate
	for rows.Next() {
		pd, err := scanDuplicate(rows.Scan)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *pd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duplicate pairs: %w", err)
	}
	return pairs, nil
}

// SetDuplicateStatus transitions a pair, stamping the resolution time.
func (s *Store) SetDuplicateStatus(ctx context.Context, id int64, status database.DuplicateStatus) error {
	var resolvedAt sql.NullTime
	if status != database.DuplicatePending {
		resolvedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE potential_duplicates SET status = $1, resolved_at = $2 WHERE id = $3",
		string(status), resolvedAt, id)
	if err != nil {
		return fmt.Errorf("update duplicate status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update duplicate status count: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// TrackedPairs returns the canonical keys of every recorded pair regardless
// of status, the scan's skip set.
func (s *Store) TrackedPairs(ctx context.Context) (map[database.PairKey]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT item_id_1, item_id_2 FROM potential_duplicates")
	if err != nil {
		return nil, fmt.Errorf("query tracked pairs: %w", err)
	}
	defer rows.Close()

	tracked := make(map[database.PairKey]bool)
	for rows.Next() {
		var a, b int64
		if err := rows.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("scan tracked pair: %w", err)
		}
		tracked[database.NewPairKey(a, b)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked pairs: %w", err)
	}
	return tracked, nil
}

// ClearPendingDuplicates deletes pending pairs only. Dismissed and merged
// pairs stay recorded so the next scan does not resurface them.
func (s *Store) ClearPendingDuplicates(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM potential_duplicates WHERE status = $1",
		string(database.DuplicatePending))
	if err != nil {
		return 0, fmt.Errorf("clear pending duplicates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear pending duplicates count: %w", err)
	}
	return n, nil
}

// ForgetDuplicateHistory deletes every pair in every status.
func (s *Store) ForgetDuplicateHistory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM potential_duplicates")
	if err != nil {
		return 0, fmt.Errorf("forget duplicate history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("forget duplicate history count: %w", err)
	}
	return n, nil
}

func scanDuplicate(scan func(dest ...any) error) (*database.PotentialDuplicate, error) {
	var pd database.PotentialDuplicate
	var resolvedAt sql.NullTime
	err := scan(&pd.ID, &pd.ItemID1, &pd.ItemID2, &pd.HammingDistance,
		&pd.Method, &pd.Status, &pd.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan duplicate pair: %w", err)
	}

	pd.CreatedAt = pd.CreatedAt.UTC()
	if resolvedAt.Valid {
		pd.ResolvedAt = resolvedAt.Time.UTC()
	}
	return &pd, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adsamcik/riposte-index/internal/database"
)

// GetHash returns the hash record for the item, or nil when absent.
func (s *Store) GetHash(ctx context.Context, itemID int64) (*database.HashRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, content_hash, perceptual_hash, computed_at
		FROM item_hashes
		WHERE item_id = $1
	`, itemID)

	rec, err := scanHashRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// UpsertHash replaces any existing record for the same item.
func (s *Store) UpsertHash(ctx context.Context, rec *database.HashRecord) error {
	var phash sql.NullInt64
	if rec.HasPerceptual {
		// uint64 hashes are stored through the signed bit pattern.
		phash = sql.NullInt64{Int64: int64(rec.PerceptualHash), Valid: true}
	}
	computedAt := rec.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_hashes (item_id, content_hash, perceptual_hash, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			perceptual_hash = EXCLUDED.perceptual_hash,
			computed_at = EXCLUDED.computed_at
	`, rec.ItemID, rec.ContentHash, phash, computedAt)
	if err != nil {
		return fmt.Errorf("upsert hash record: %w", err)
	}
	return nil
}

// AllHashes loads every hash record ordered by item id.
func (s *Store) AllHashes(ctx context.Context) ([]database.HashRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, content_hash, perceptual_hash, computed_at
		FROM item_hashes
		ORDER BY item_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query hash records: %w", err)
	}
	defer rows.Close()

	var recs []database.HashRecord
	for rows.Next() {
		rec, err := scanHashRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hash records: %w", err)
	}
	return recs, nil
}

// ItemsWithoutHash returns the items that still need fingerprinting.
func (s *Store) ItemsWithoutHash(ctx context.Context) ([]database.ItemFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path FROM items
		WHERE id NOT IN (SELECT item_id FROM item_hashes)
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query items without hash: %w", err)
	}
	defer rows.Close()

	var files []database.ItemFile
	for rows.Next() {
		var f database.ItemFile
		if err := rows.Scan(&f.ItemID, &f.Path); err != nil {
			return nil, fmt.Errorf("scan item file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item files: %w", err)
	}
	return files, nil
}

// FindItemByContentHash returns an item whose file has this exact content
// hash, if any.
func (s *Store) FindItemByContentHash(ctx context.Context, contentHash string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT item_id FROM item_hashes WHERE content_hash = $1 ORDER BY item_id LIMIT 1",
		contentHash).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find item by content hash: %w", err)
	}
	return id, true, nil
}

func scanHashRecord(scan func(dest ...any) error) (*database.HashRecord, error) {
	var rec database.HashRecord
	var phash sql.NullInt64
	err := scan(&rec.ItemID, &rec.ContentHash, &phash, &rec.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan hash record: %w", err)
	}

	if phash.Valid {
		rec.PerceptualHash = uint64(phash.Int64)
		rec.HasPerceptual = true
	}
	rec.ComputedAt = rec.ComputedAt.UTC()
	return &rec, nil
}

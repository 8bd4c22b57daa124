package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/embedding"
)

// GetBySubject returns the embedding for (itemID, slot), or nil when absent.
func (s *Store) GetBySubject(ctx context.Context, itemID int64, slot database.Slot) (*database.Embedding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, slot, embedding, dimension, model_version, generated_at,
			source_text_hash, needs_regeneration
		FROM embeddings
		WHERE item_id = ? AND slot = ?
	`, itemID, slot)

	emb, err := scanEmbedding(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return emb, err
}

// Upsert replaces any existing vector for the same (item, slot).
func (s *Store) Upsert(ctx context.Context, emb *database.Embedding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (item_id, slot, embedding, dimension, model_version,
			generated_at, source_text_hash, needs_regeneration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, slot) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model_version = excluded.model_version,
			generated_at = excluded.generated_at,
			source_text_hash = excluded.source_text_hash,
			needs_regeneration = excluded.needs_regeneration
	`, emb.ItemID, emb.Slot, embedding.Encode(emb.Vector), emb.Dimension,
		emb.ModelVersion, toUnix(emb.GeneratedAt), emb.SourceTextHash,
		emb.NeedsRegeneration)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// DeleteEmbedding removes one vector; missing rows are not an error.
func (s *Store) DeleteEmbedding(ctx context.Context, itemID int64, slot database.Slot) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM embeddings WHERE item_id = ? AND slot = ?", itemID, slot)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

// IDsWithoutEmbedding returns ids of items that have no vector for the slot.
func (s *Store) IDsWithoutEmbedding(ctx context.Context, slot database.Slot, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM items
		WHERE id NOT IN (SELECT item_id FROM embeddings WHERE slot = ?)
		ORDER BY id
		LIMIT ?
	`, slot, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query items without embedding: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// IDsNeedingRegeneration returns ids of items whose vector is flagged stale.
func (s *Store) IDsNeedingRegeneration(ctx context.Context, slot database.Slot, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id FROM embeddings
		WHERE slot = ? AND needs_regeneration = 1
		ORDER BY item_id
		LIMIT ?
	`, slot, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query stale embeddings: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// MarkStaleForModelVersion flags every vector generated by a different model
// version, returning the number of rows flagged.
func (s *Store) MarkStaleForModelVersion(ctx context.Context, exceptVersion string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embeddings SET needs_regeneration = 1
		WHERE model_version != ? AND needs_regeneration = 0
	`, exceptVersion)
	if err != nil {
		return 0, fmt.Errorf("mark stale embeddings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark stale embeddings count: %w", err)
	}
	return n, nil
}

// CountByModelVersion returns vector counts grouped by model version.
func (s *Store) CountByModelVersion(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT model_version, COUNT(*) FROM embeddings GROUP BY model_version")
	if err != nil {
		return nil, fmt.Errorf("count embeddings by model: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var version string
		var n int
		if err := rows.Scan(&version, &n); err != nil {
			return nil, fmt.Errorf("scan embedding count: %w", err)
		}
		counts[version] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding counts: %w", err)
	}
	return counts, nil
}

// CountValid counts vectors for the slot not flagged for regeneration.
func (s *Store) CountValid(ctx context.Context, slot database.Slot) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM embeddings WHERE slot = ? AND needs_regeneration = 0",
		slot).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count valid embeddings: %w", err)
	}
	return n, nil
}

// CountNeedingRegeneration counts vectors for the slot flagged stale.
func (s *Store) CountNeedingRegeneration(ctx context.Context, slot database.Slot) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM embeddings WHERE slot = ? AND needs_regeneration = 1",
		slot).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale embeddings: %w", err)
	}
	return n, nil
}

// CountItemsWithoutEmbedding counts items that have no vector for the slot.
func (s *Store) CountItemsWithoutEmbedding(ctx context.Context, slot database.Slot) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items
		WHERE id NOT IN (SELECT item_id FROM embeddings WHERE slot = ?)
	`, slot).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items without embedding: %w", err)
	}
	return n, nil
}

// AllBySlot loads every embedding for the slot.
func (s *Store) AllBySlot(ctx context.Context, slot database.Slot) ([]database.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, slot, embedding, dimension, model_version, generated_at,
			source_text_hash, needs_regeneration
		FROM embeddings
		WHERE slot = ?
		ORDER BY item_id
	`, slot)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var embs []database.Embedding
	for rows.Next() {
		emb, err := scanEmbedding(rows.Scan)
		if err != nil {
			return nil, err
		}
		embs = append(embs, *emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return embs, nil
}

func scanEmbedding(scan func(dest ...any) error) (*database.Embedding, error) {
	var emb database.Embedding
	var blob []byte
	var generatedAt int64
	err := scan(&emb.ItemID, &emb.Slot, &blob, &emb.Dimension, &emb.ModelVersion,
		&generatedAt, &emb.SourceTextHash, &emb.NeedsRegeneration)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan embedding: %w", err)
	}

	emb.Vector, err = embedding.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("embedding for item %d: %w", emb.ItemID, err)
	}
	emb.GeneratedAt = fromUnix(generatedAt)
	return &emb, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// sqlLimit maps a non-positive limit to SQLite's unlimited sentinel.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

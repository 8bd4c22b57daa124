package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adsamcik/riposte-index/internal/database"
)

// ApplyMerge applies a resolved duplicate merge as one transaction. The
// winner takes the caller-resolved fields and any embedding slots only the
// loser had; the loser row goes away together with its remaining derived
// state; the pair is marked merged. Any failure rolls back every step.
func (s *Store) ApplyMerge(ctx context.Context, req database.MergeRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	// Resolve the pair up front so a bad id aborts before anything changes.
	var pairA, pairB int64
	err = tx.QueryRowContext(ctx,
		"SELECT item_id_1, item_id_2 FROM potential_duplicates WHERE id = $1",
		req.DuplicateID).Scan(&pairA, &pairB)
	if err == sql.ErrNoRows {
		return database.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load duplicate pair: %w", err)
	}
	lo, hi := database.CanonicalPair(req.WinnerID, req.LoserID)
	if pairA != lo || pairB != hi {
		return fmt.Errorf("duplicate pair %d does not reference items %d and %d",
			req.DuplicateID, req.WinnerID, req.LoserID)
	}

	if err := applyItemUpdate(ctx, tx, req.WinnerID, req.Fields); err != nil {
		return err
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+selectItemFields+` FROM items WHERE id = $1`, req.WinnerID)
	winner, err := scanItem(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("winner item %d: %w", req.WinnerID, database.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := s.indexItemText(ctx, tx, winner); err != nil {
		return err
	}

	// Move over embedding slots only the loser had, then flag every winner
	// vector stale; the merged text differs from what any of them encoded.
	if _, err := tx.ExecContext(ctx, `
		UPDATE embeddings SET item_id = $1
		WHERE item_id = $2
		  AND slot NOT IN (SELECT slot FROM embeddings WHERE item_id = $1)
	`, req.WinnerID, req.LoserID); err != nil {
		return fmt.Errorf("transfer embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE embeddings SET needs_regeneration = TRUE WHERE item_id = $1",
		req.WinnerID); err != nil {
		return fmt.Errorf("flag merged embeddings: %w", err)
	}

	// Unresolved pairs pointing at the loser are dead once it goes away.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM potential_duplicates
		WHERE status = $1 AND id != $2 AND (item_id_1 = $3 OR item_id_2 = $3)
	`, database.DuplicatePending, req.DuplicateID, req.LoserID); err != nil {
		return fmt.Errorf("clear loser duplicate pairs: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE potential_duplicates SET status = $1, resolved_at = $2 WHERE id = $3",
		database.DuplicateMerged, time.Now().UTC(), req.DuplicateID); err != nil {
		return fmt.Errorf("mark pair merged: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM items WHERE id = $1", req.LoserID); err != nil {
		return fmt.Errorf("delete loser item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

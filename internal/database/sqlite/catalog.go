package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/database"
)

const selectItemFields = `id, title, description, text_content, search_phrase,
	emojis, tags, source, file_path, favorite, use_count, view_count,
	created_at, updated_at`

// InsertItem stores a new item and indexes its text fields.
func (s *Store) InsertItem(ctx context.Context, item *catalog.Item) (int64, error) {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (title, description, text_content, search_phrase,
			emojis, tags, source, file_path, favorite, use_count, view_count,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.Title, item.Description, item.TextContent, item.SearchPhrase,
		encodeStrings(item.Emojis), encodeStrings(item.Tags), item.Source,
		item.FilePath, item.Favorite, item.UseCount, item.ViewCount,
		toUnix(item.CreatedAt), toUnix(item.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert item id: %w", err)
	}
	item.ID = id

	if err := s.indexItemText(ctx, s.db, item); err != nil {
		return 0, err
	}
	return id, nil
}

// GetItemByID returns the item, or nil when it does not exist.
func (s *Store) GetItemByID(ctx context.Context, id int64) (*catalog.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectItemFields+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// UpdateItemFields applies a partial update and rewrites the text index row.
func (s *Store) UpdateItemFields(ctx context.Context, id int64, update catalog.ItemUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	if err := applyItemUpdate(ctx, tx, id, update); err != nil {
		return err
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+selectItemFields+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return database.ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := s.indexItemText(ctx, tx, item); err != nil {
		return err
	}

	// The stored vector describes the pre-edit text; flag it so the next
	// catch-up run regenerates it.
	if update.TouchesSearchText() {
		if _, err := tx.ExecContext(ctx,
			"UPDATE embeddings SET needs_regeneration = 1 WHERE item_id = ?", id); err != nil {
			return fmt.Errorf("flag item embeddings stale: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// DeleteItem removes the item, its text index row, its derived state
// (embeddings and hash record via foreign keys) and any unresolved
// duplicate pairs that reference it. Resolved pairs stay as history.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM items_fts WHERE rowid = ?", id); err != nil {
		return fmt.Errorf("delete item text index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM potential_duplicates
		WHERE status = ? AND (item_id_1 = ? OR item_id_2 = ?)
	`, database.DuplicatePending, id, id); err != nil {
		return fmt.Errorf("delete item duplicate pairs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// ListItems returns items ordered by id.
func (s *Store) ListItems(ctx context.Context, limit, offset int) ([]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectItemFields+` FROM items ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		item, err := scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// CountItems returns the catalog size.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// LexicalSearch matches the query against the FTS5 index and returns ranked
// matches with scores normalized to [0, 1], best first.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]catalog.Match, error) {
	ftsQuery := prepareFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	// bm25 weights favor the title and the hand-written search phrase. SQLite
	// returns bm25 negated, so ascending order is best first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, bm25(items_fts, 2.0, 1.0, 1.0, 2.0, 1.0) AS rank
		FROM items_fts
		WHERE items_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var matches []catalog.Match
	for rows.Next() {
		var m catalog.Match
		if err := rows.Scan(&m.ItemID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan lexical match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical matches: %w", err)
	}

	normalizeScores(matches)
	return matches, nil
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// indexItemText rewrites the FTS row for the item, keyed by the item id.
func (s *Store) indexItemText(ctx context.Context, db execer, item *catalog.Item) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM items_fts WHERE rowid = ?", item.ID); err != nil {
		return fmt.Errorf("clear item text index: %w", err)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO items_fts (rowid, title, description, text_content, search_phrase, tags)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, item.Title, item.Description, item.TextContent,
		item.SearchPhrase, strings.Join(item.Tags, " "))
	if err != nil {
		return fmt.Errorf("index item text: %w", err)
	}
	return nil
}

// applyItemUpdate builds and runs the UPDATE for the non-nil fields.
func applyItemUpdate(ctx context.Context, tx *sql.Tx, id int64, update catalog.ItemUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Unix()}

	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if update.Title != nil {
		set("title", *update.Title)
	}
	if update.Description != nil {
		set("description", *update.Description)
	}
	if update.TextContent != nil {
		set("text_content", *update.TextContent)
	}
	if update.SearchPhrase != nil {
		set("search_phrase", *update.SearchPhrase)
	}
	if update.Emojis != nil {
		set("emojis", encodeStrings(*update.Emojis))
	}
	if update.Tags != nil {
		set("tags", encodeStrings(*update.Tags))
	}
	if update.Source != nil {
		set("source", *update.Source)
	}
	if update.Favorite != nil {
		set("favorite", *update.Favorite)
	}
	if update.UseCount != nil {
		set("use_count", *update.UseCount)
	}
	if update.ViewCount != nil {
		set("view_count", *update.ViewCount)
	}

	args = append(args, id)
	_, err := tx.ExecContext(ctx,
		"UPDATE items SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// prepareFTSQuery turns free text into an FTS5 query: every token quoted
// (so operator characters are inert) and prefix-matched.
func prepareFTSQuery(query string) string {
	tokens := strings.Fields(catalog.NormalizeQuery(query))
	if len(tokens) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.ReplaceAll(tok, `"`, `""`)
		quoted = append(quoted, `"`+tok+`"*`)
	}
	return strings.Join(quoted, " ")
}

// normalizeScores rescales bm25 ranks so the best match scores 1.0. Ranks
// arrive negated (more negative is better).
func normalizeScores(matches []catalog.Match) {
	if len(matches) == 0 {
		return
	}
	best := matches[0].Score
	for _, m := range matches {
		if m.Score < best {
			best = m.Score
		}
	}
	if best >= 0 {
		for i := range matches {
			matches[i].Score = 1.0
		}
		return
	}
	for i := range matches {
		matches[i].Score = matches[i].Score / best
	}
}

func scanItem(row *sql.Row) (*catalog.Item, error) {
	var item catalog.Item
	var emojis, tags string
	var createdAt, updatedAt int64
	if err := row.Scan(&item.ID, &item.Title, &item.Description, &item.TextContent,
		&item.SearchPhrase, &emojis, &tags, &item.Source, &item.FilePath,
		&item.Favorite, &item.UseCount, &item.ViewCount, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return finishItem(&item, emojis, tags, createdAt, updatedAt)
}

func scanItemRows(rows *sql.Rows) (*catalog.Item, error) {
	var item catalog.Item
	var emojis, tags string
	var createdAt, updatedAt int64
	if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.TextContent,
		&item.SearchPhrase, &emojis, &tags, &item.Source, &item.FilePath,
		&item.Favorite, &item.UseCount, &item.ViewCount, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return finishItem(&item, emojis, tags, createdAt, updatedAt)
}

func finishItem(item *catalog.Item, emojis, tags string, createdAt, updatedAt int64) (*catalog.Item, error) {
	var err error
	if item.Emojis, err = decodeStrings(emojis); err != nil {
		return nil, fmt.Errorf("decode item emojis: %w", err)
	}
	if item.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("decode item tags: %w", err)
	}
	item.CreatedAt = fromUnix(createdAt)
	item.UpdatedAt = fromUnix(updatedAt)
	return item, nil
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

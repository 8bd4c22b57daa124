package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

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

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO items (title, description, text_content, search_phrase,
			emojis, tags, source, file_path, favorite, use_count, view_count,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, item.Title, item.Description, item.TextContent, item.SearchPhrase,
		encodeStrings(item.Emojis), encodeStrings(item.Tags), item.Source,
		item.FilePath, item.Favorite, item.UseCount, item.ViewCount,
		item.CreatedAt, item.UpdatedAt).Scan(&item.ID)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}

	if err := s.indexItemText(ctx, s.db, item); err != nil {
		return 0, err
	}
	return item.ID, nil
}

// GetItemByID returns the item, or nil when it does not exist.
func (s *Store) GetItemByID(ctx context.Context, id int64) (*catalog.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectItemFields+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// UpdateItemFields applies a partial update and rewrites the search vector.
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
		`SELECT `+selectItemFields+` FROM items WHERE id = $1`, id)
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
			"UPDATE embeddings SET needs_regeneration = TRUE WHERE item_id = $1", id); err != nil {
			return fmt.Errorf("flag item embeddings stale: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// DeleteItem removes the item, its derived state (embeddings and hash record
// via foreign keys) and any unresolved duplicate pairs that reference it.
// Resolved pairs stay as history.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM potential_duplicates
		WHERE status = $1 AND (item_id_1 = $2 OR item_id_2 = $2)
	`, database.DuplicatePending, id); err != nil {
		return fmt.Errorf("delete item duplicate pairs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = $1", id); err != nil {
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
		`SELECT `+selectItemFields+` FROM items ORDER BY id LIMIT $1 OFFSET $2`,
		sqlLimit(limit), offset)
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

// LexicalSearch matches the query against the tsvector index and returns
// ranked matches with scores normalized to [0, 1], best first.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]catalog.Match, error) {
	tsQuery := prepareTSQuery(query)
	if tsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts_rank(search_tsv, to_tsquery('simple', $1)) AS rank
		FROM items
		WHERE search_tsv @@ to_tsquery('simple', $1)
		ORDER BY rank DESC, id
		LIMIT $2
	`, tsQuery, sqlLimit(limit))
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

// indexItemText rewrites the item's search vector. Diacritics are folded in
// Go so the backend needs no unaccent extension.
func (s *Store) indexItemText(ctx context.Context, db execer, item *catalog.Item) error {
	fold := catalog.RemoveDiacritics
	_, err := db.ExecContext(ctx, `
		UPDATE items SET search_tsv =
			setweight(to_tsvector('simple', $2), 'A') ||
			setweight(to_tsvector('simple', $3), 'B') ||
			setweight(to_tsvector('simple', $4), 'B') ||
			setweight(to_tsvector('simple', $5), 'A') ||
			setweight(to_tsvector('simple', $6), 'C')
		WHERE id = $1
	`, item.ID, fold(item.Title), fold(item.Description), fold(item.TextContent),
		fold(item.SearchPhrase), fold(strings.Join(item.Tags, " ")))
	if err != nil {
		return fmt.Errorf("index item text: %w", err)
	}
	return nil
}

// applyItemUpdate builds and runs the UPDATE for the non-nil fields.
func applyItemUpdate(ctx context.Context, tx *sql.Tx, id int64, update catalog.ItemUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
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
		fmt.Sprintf("UPDATE items SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// prepareTSQuery turns free text into a tsquery: tokens reduced to letters
// and digits (so operator characters are inert), prefix-matched, ANDed.
func prepareTSQuery(query string) string {
	var terms []string
	for _, tok := range strings.Fields(catalog.NormalizeQuery(query)) {
		var b strings.Builder
		for _, r := range tok {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			terms = append(terms, b.String()+":*")
		}
	}
	return strings.Join(terms, " & ")
}

// normalizeScores rescales ts_rank scores so the best match scores 1.0.
func normalizeScores(matches []catalog.Match) {
	if len(matches) == 0 {
		return
	}
	best := matches[0].Score
	for _, m := range matches {
		if m.Score > best {
			best = m.Score
		}
	}
	if best <= 0 {
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
	var emojis, tags []byte
	if err := row.Scan(&item.ID, &item.Title, &item.Description, &item.TextContent,
		&item.SearchPhrase, &emojis, &tags, &item.Source, &item.FilePath,
		&item.Favorite, &item.UseCount, &item.ViewCount,
		&item.CreatedAt, &item.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return finishItem(&item, emojis, tags)
}

func scanItemRows(rows *sql.Rows) (*catalog.Item, error) {
	var item catalog.Item
	var emojis, tags []byte
	if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.TextContent,
		&item.SearchPhrase, &emojis, &tags, &item.Source, &item.FilePath,
		&item.Favorite, &item.UseCount, &item.ViewCount,
		&item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return finishItem(&item, emojis, tags)
}

func finishItem(item *catalog.Item, emojis, tags []byte) (*catalog.Item, error) {
	var err error
	if item.Emojis, err = decodeStrings(emojis); err != nil {
		return nil, fmt.Errorf("decode item emojis: %w", err)
	}
	if item.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("decode item tags: %w", err)
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 || string(raw) == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// sqlLimit maps a non-positive limit to PostgreSQL's unlimited sentinel.
func sqlLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

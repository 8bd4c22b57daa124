// Package catalog defines the item collection the index is derived from:
// the Item model, partial updates, and the storage contract including the
// full-text search primitive.
package catalog

import (
	"context"
	"strings"
	"time"
)

// Item is a single library entry. The image file on disk is immutable once
// imported; all mutable state lives in this record.
type Item struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	TextContent  string    `json:"text_content,omitempty"` // text visible in the image
	SearchPhrase string    `json:"search_phrase,omitempty"`
	Emojis       []string  `json:"emojis,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Source       string    `json:"source,omitempty"`
	FilePath     string    `json:"file_path"`
	Favorite     bool      `json:"favorite"`
	UseCount     int       `json:"use_count"`
	ViewCount    int       `json:"view_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SearchText bundles the item's searchable fields into one string, the text
// an embedding is generated from. Field order is fixed so the same item
// always produces the same text (and therefore the same source-text hash).
func (i *Item) SearchText() string {
	parts := make([]string, 0, 5)
	for _, s := range []string{i.Title, i.Description, i.TextContent, i.SearchPhrase} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(i.Tags) > 0 {
		parts = append(parts, strings.Join(i.Tags, " "))
	}
	return strings.Join(parts, "\n")
}

// ItemUpdate is a partial update; nil fields are left untouched.
type ItemUpdate struct {
	Title        *string
	Description  *string
	TextContent  *string
	SearchPhrase *string
	Emojis       *[]string
	Tags         *[]string
	Source       *string
	Favorite     *bool
	UseCount     *int
	ViewCount    *int
}

// TouchesSearchText reports whether the update rewrites any field that feeds
// SearchText. An embedding generated before such an update describes text
// that no longer exists, so stores flag it for regeneration.
func (u ItemUpdate) TouchesSearchText() bool {
	return u.Title != nil || u.Description != nil || u.TextContent != nil ||
		u.SearchPhrase != nil || u.Tags != nil
}

// Match is a scored full-text search hit. Scores are normalized to [0, 1]
// with the best match at 1.
type Match struct {
	ItemID int64
	Score  float64
}

// Store is the catalog persistence contract.
type Store interface {
	// InsertItem stores a new item and returns its assigned id.
	InsertItem(ctx context.Context, item *Item) (int64, error)

	// GetItemByID returns the item, or nil if it does not exist.
	GetItemByID(ctx context.Context, id int64) (*Item, error)

	// UpdateItemFields applies a partial update and refreshes the text index.
	UpdateItemFields(ctx context.Context, id int64, update ItemUpdate) error

	// DeleteItem removes the item together with its derived state
	// (embeddings, hash record, duplicate pairs referencing it).
	DeleteItem(ctx context.Context, id int64) error

	// ListItems returns items ordered by id.
	ListItems(ctx context.Context, limit, offset int) ([]Item, error)

	// CountItems returns the catalog size.
	CountItems(ctx context.Context) (int, error)

	// LexicalSearch runs the full-text index over the query and returns
	// ranked matches, best first.
	LexicalSearch(ctx context.Context, query string, limit int) ([]Match, error)
}

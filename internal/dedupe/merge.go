package dedupe

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/database"
)

// ResolveStore is the persistence surface resolution needs.
type ResolveStore interface {
	catalog.Store
	database.DuplicateStore
	database.Merger
}

// MergeInput carries the caller's decisions for a merge: which item survives
// and the merged text fields. Nil text fields keep the winner's value;
// nil counts default to the sum of both sides.
type MergeInput struct {
	WinnerID     int64   `json:"winner_id"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	TextContent  *string `json:"text_content,omitempty"`
	SearchPhrase *string `json:"search_phrase,omitempty"`
	UseCount     *int    `json:"use_count,omitempty"`
	ViewCount    *int    `json:"view_count,omitempty"`
}

// Resolver turns pending duplicate pairs into a resolution. Merges run as
// one storage transaction; a failure anywhere leaves the full pre-merge
// state behind and surfaces the error, since a half-applied merge would
// orphan embeddings or lose the winner's data.
type Resolver struct {
	store  ResolveStore
	logger *zap.Logger
}

// NewResolver creates a duplicate resolver.
func NewResolver(store ResolveStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// Merge resolves the pair into the winner: emoji and tag sets become the
// union of both sides, favorite is the OR, counts and text fields follow
// the caller's input, loser-only embedding slots move to the winner, the
// loser is deleted, and the pair is marked merged.
func (r *Resolver) Merge(ctx context.Context, duplicateID int64, input MergeInput) error {
	pair, err := r.store.GetDuplicate(ctx, duplicateID)
	if err != nil {
		return err
	}
	if pair.Status != database.DuplicatePending {
		return fmt.Errorf("duplicate pair %d is already %s", duplicateID, pair.Status)
	}

	var loserID int64
	switch input.WinnerID {
	case pair.ItemID1:
		loserID = pair.ItemID2
	case pair.ItemID2:
		loserID = pair.ItemID1
	default:
		return fmt.Errorf("item %d is not part of duplicate pair %d", input.WinnerID, duplicateID)
	}

	winner, err := r.store.GetItemByID(ctx, input.WinnerID)
	if err != nil {
		return err
	}
	if winner == nil {
		return fmt.Errorf("winner item %d: %w", input.WinnerID, database.ErrNotFound)
	}
	loser, err := r.store.GetItemByID(ctx, loserID)
	if err != nil {
		return err
	}
	if loser == nil {
		return fmt.Errorf("loser item %d: %w", loserID, database.ErrNotFound)
	}

	fields := mergedFields(winner, loser, input)
	if err := r.store.ApplyMerge(ctx, database.MergeRequest{
		DuplicateID: duplicateID,
		WinnerID:    input.WinnerID,
		LoserID:     loserID,
		Fields:      fields,
	}); err != nil {
		return fmt.Errorf("merge duplicate %d: %w", duplicateID, err)
	}

	r.logger.Info("merged duplicate pair",
		zap.Int64("duplicate_id", duplicateID),
		zap.Int64("winner_id", input.WinnerID),
		zap.Int64("loser_id", loserID))
	return nil
}

// Dismiss marks a pending pair dismissed. The row stays recorded so the
// pair never resurfaces on later scans.
func (r *Resolver) Dismiss(ctx context.Context, duplicateID int64) error {
	pair, err := r.store.GetDuplicate(ctx, duplicateID)
	if err != nil {
		return err
	}
	if pair.Status != database.DuplicatePending {
		return fmt.Errorf("duplicate pair %d is already %s", duplicateID, pair.Status)
	}
	return r.store.SetDuplicateStatus(ctx, duplicateID, database.DuplicateDismissed)
}

// mergedFields builds the winner's update from both items and the caller's
// merged values.
func mergedFields(winner, loser *catalog.Item, input MergeInput) catalog.ItemUpdate {
	update := catalog.ItemUpdate{
		Title:        input.Title,
		Description:  input.Description,
		TextContent:  input.TextContent,
		SearchPhrase: input.SearchPhrase,
	}

	emojis := unionStrings(winner.Emojis, loser.Emojis)
	update.Emojis = &emojis
	tags := unionStrings(winner.Tags, loser.Tags)
	update.Tags = &tags

	useCount := winner.UseCount + loser.UseCount
	if input.UseCount != nil {
		useCount = *input.UseCount
	}
	update.UseCount = &useCount

	viewCount := winner.ViewCount + loser.ViewCount
	if input.ViewCount != nil {
		viewCount = *input.ViewCount
	}
	update.ViewCount = &viewCount

	favorite := winner.Favorite || loser.Favorite
	update.Favorite = &favorite

	return update
}

// unionStrings merges two sets keeping the first slice's order, with the
// second slice's additions appended sorted for determinism.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	union := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			union = append(union, s)
		}
	}
	var added []string
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			added = append(added, s)
		}
	}
	sort.Strings(added)
	return append(union, added...)
}

package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/database/sqlite"
)

func insertPair(t *testing.T, store *sqlite.Store, a, b *catalog.Item) (int64, int64, int64) {
	t.Helper()
	ctx := context.Background()
	idA, err := store.InsertItem(ctx, a)
	if err != nil {
		t.Fatalf("inserting item: %v", err)
	}
	idB, err := store.InsertItem(ctx, b)
	if err != nil {
		t.Fatalf("inserting item: %v", err)
	}
	pd := &database.PotentialDuplicate{ItemID1: idA, ItemID2: idB, Method: database.DetectionExact}
	if _, err := store.InsertDuplicate(ctx, pd); err != nil {
		t.Fatalf("inserting duplicate pair: %v", err)
	}
	return idA, idB, pd.ID
}

func TestMergeCombinesMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	winnerID, loserID, pairID := insertPair(t, store,
		&catalog.Item{
			Title:    "cat meme",
			Emojis:   []string{"😹", "🐈"},
			Tags:     []string{"cat"},
			UseCount: 5, ViewCount: 10,
		},
		&catalog.Item{
			Title:    "cat meme copy",
			Emojis:   []string{"😹", "😂"},
			Tags:     []string{"funny"},
			Favorite: true,
			UseCount: 3, ViewCount: 7,
		})

	resolver := NewResolver(store, nil)
	title := "cat meme"
	if err := resolver.Merge(ctx, pairID, MergeInput{WinnerID: winnerID, Title: &title}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	winner, err := store.GetItemByID(ctx, winnerID)
	if err != nil || winner == nil {
		t.Fatalf("loading winner: %v", err)
	}
	if got := winner.Emojis; len(got) != 3 {
		t.Errorf("emoji union should have 3 entries, got %v", got)
	}
	if got := winner.Tags; len(got) != 2 {
		t.Errorf("tag union should have 2 entries, got %v", got)
	}
	if !winner.Favorite {
		t.Error("favorite should be the OR of both sides")
	}
	if winner.UseCount != 8 {
		t.Errorf("use count should default to the sum 8, got %d", winner.UseCount)
	}
	if winner.ViewCount != 17 {
		t.Errorf("view count should default to the sum 17, got %d", winner.ViewCount)
	}

	// The loser is gone; the pair is recorded as merged.
	loser, err := store.GetItemByID(ctx, loserID)
	if err != nil {
		t.Fatalf("loading loser: %v", err)
	}
	if loser != nil {
		t.Error("loser item should be deleted")
	}
	pair, err := store.GetDuplicate(ctx, pairID)
	if err != nil {
		t.Fatalf("loading pair: %v", err)
	}
	if pair.Status != database.DuplicateMerged {
		t.Errorf("pair should be merged, got %s", pair.Status)
	}
}

func TestMergeCallerSuppliedCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	winnerID, _, pairID := insertPair(t, store,
		&catalog.Item{Title: "a", UseCount: 5},
		&catalog.Item{Title: "b", UseCount: 3})

	useCount := 100
	resolver := NewResolver(store, nil)
	if err := resolver.Merge(ctx, pairID, MergeInput{WinnerID: winnerID, UseCount: &useCount}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	winner, err := store.GetItemByID(ctx, winnerID)
	if err != nil || winner == nil {
		t.Fatalf("loading winner: %v", err)
	}
	if winner.UseCount != 100 {
		t.Errorf("caller-supplied total should win, got %d", winner.UseCount)
	}
}

func TestMergeMovesLoserOnlyEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	winnerID, loserID, pairID := insertPair(t, store,
		&catalog.Item{Title: "winner"},
		&catalog.Item{Title: "loser"})

	// Only the loser has an embedding; after the merge the winner owns it.
	if err := store.Upsert(ctx, &database.Embedding{
		ItemID: loserID, Slot: database.SlotContent,
		Vector: []float32{1, 2, 3}, Dimension: 3, ModelVersion: "mock/v1",
	}); err != nil {
		t.Fatalf("storing loser embedding: %v", err)
	}

	resolver := NewResolver(store, nil)
	if err := resolver.Merge(ctx, pairID, MergeInput{WinnerID: winnerID}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	moved, err := store.GetBySubject(ctx, winnerID, database.SlotContent)
	if err != nil {
		t.Fatalf("GetBySubject failed: %v", err)
	}
	if moved == nil {
		t.Fatal("loser-only embedding slot should be re-keyed to the winner")
	}
	orphan, err := store.GetBySubject(ctx, loserID, database.SlotContent)
	if err != nil {
		t.Fatalf("GetBySubject failed: %v", err)
	}
	if orphan != nil {
		t.Error("no embedding may remain under the loser's id")
	}
}

func TestMergeRejectsWrongWinner(t *testing.T) {
	store := newTestStore(t)
	_, _, pairID := insertPair(t, store,
		&catalog.Item{Title: "a"}, &catalog.Item{Title: "b"})

	resolver := NewResolver(store, nil)
	err := resolver.Merge(context.Background(), pairID, MergeInput{WinnerID: 999})
	if err == nil {
		t.Fatal("a winner outside the pair must be rejected")
	}
}

func TestMergeRejectsResolvedPair(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	winnerID, _, pairID := insertPair(t, store,
		&catalog.Item{Title: "a"}, &catalog.Item{Title: "b"})

	resolver := NewResolver(store, nil)
	if err := resolver.Dismiss(ctx, pairID); err != nil {
		t.Fatalf("Dismiss failed: %v", err)
	}
	if err := resolver.Merge(ctx, pairID, MergeInput{WinnerID: winnerID}); err == nil {
		t.Fatal("a dismissed pair must not be mergeable")
	}
}

func TestMergeUnknownPair(t *testing.T) {
	resolver := NewResolver(newTestStore(t), nil)
	err := resolver.Merge(context.Background(), 12345, MergeInput{WinnerID: 1})
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDismissKeepsRowRecorded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	idA, idB, pairID := insertPair(t, store,
		&catalog.Item{Title: "a"}, &catalog.Item{Title: "b"})

	resolver := NewResolver(store, nil)
	if err := resolver.Dismiss(ctx, pairID); err != nil {
		t.Fatalf("Dismiss failed: %v", err)
	}

	pair, err := store.GetDuplicate(ctx, pairID)
	if err != nil {
		t.Fatalf("loading pair: %v", err)
	}
	if pair.Status != database.DuplicateDismissed {
		t.Errorf("expected dismissed status, got %s", pair.Status)
	}

	// The dismissed pair still blocks re-insertion.
	inserted, err := store.InsertDuplicate(ctx, &database.PotentialDuplicate{
		ItemID1: idB, ItemID2: idA, Method: database.DetectionExact,
	})
	if err != nil {
		t.Fatalf("InsertDuplicate failed: %v", err)
	}
	if inserted {
		t.Error("a dismissed pair must not be re-insertable, even mirrored")
	}
}

func TestDismissAlreadyResolved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, _, pairID := insertPair(t, store,
		&catalog.Item{Title: "a"}, &catalog.Item{Title: "b"})

	resolver := NewResolver(store, nil)
	if err := resolver.Dismiss(ctx, pairID); err != nil {
		t.Fatalf("first dismiss failed: %v", err)
	}
	if err := resolver.Dismiss(ctx, pairID); err == nil {
		t.Fatal("dismissing a resolved pair should fail")
	}
}

package search

import (
	"os"
	"path/filepath"
	"testing"
)

func buildTestIndex(t *testing.T) *ANNIndex {
	t.Helper()
	ann := NewANNIndex()
	ann.Build([]Candidate{
		{ItemID: 1, Vector: []float32{1, 0, 0}},
		{ItemID: 2, Vector: []float32{0.9, 0.1, 0}},
		{ItemID: 3, Vector: []float32{0, 1, 0}},
		{ItemID: 4, Vector: []float32{0, 0, 1}},
	})
	return ann
}

func TestANNShortlistReturnsNearest(t *testing.T) {
	ann := buildTestIndex(t)

	shortlist := ann.Shortlist([]float32{1, 0, 0}, 2)
	if len(shortlist) == 0 {
		t.Fatal("expected a non-empty shortlist")
	}
	if shortlist[0].ItemID != 1 {
		t.Errorf("expected item 1 nearest, got %d", shortlist[0].ItemID)
	}
}

func TestANNShortlistEmptyIndex(t *testing.T) {
	ann := NewANNIndex()
	if got := ann.Shortlist([]float32{1, 0}, 5); got != nil {
		t.Fatalf("empty index should return nil, got %v", got)
	}
}

func TestANNShortlistDimensionMismatchFallsBack(t *testing.T) {
	ann := buildTestIndex(t)
	if got := ann.Shortlist([]float32{1, 0}, 5); got != nil {
		t.Fatalf("mismatched query width should return nil, got %v", got)
	}
}

func TestANNRemoveFiltersShortlist(t *testing.T) {
	ann := buildTestIndex(t)
	ann.Remove(1)

	shortlist := ann.Shortlist([]float32{1, 0, 0}, 4)
	for _, c := range shortlist {
		if c.ItemID == 1 {
			t.Error("removed item must not appear in shortlists")
		}
	}
	if ann.Len() != 3 {
		t.Errorf("expected 3 items after removal, got %d", ann.Len())
	}
}

func TestANNSnapshotRoundTrip(t *testing.T) {
	candidates := []Candidate{
		{ItemID: 1, Vector: []float32{1, 0, 0}},
		{ItemID: 2, Vector: []float32{0.9, 0.1, 0}},
		{ItemID: 3, Vector: []float32{0, 1, 0}},
	}
	ann := NewANNIndex()
	ann.Build(candidates)

	path := filepath.Join(t.TempDir(), "ann.idx")
	if err := ann.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := NewANNIndex()
	loaded, err := restored.Load(path, candidates)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded {
		t.Fatal("expected the snapshot to load")
	}
	if restored.Len() != 3 {
		t.Errorf("expected 3 items after load, got %d", restored.Len())
	}

	shortlist := restored.Shortlist([]float32{1, 0, 0}, 1)
	if len(shortlist) == 0 || shortlist[0].ItemID != 1 {
		t.Errorf("restored index should rank item 1 nearest, got %v", shortlist)
	}
}

func TestANNLoadMissingSnapshot(t *testing.T) {
	ann := NewANNIndex()
	loaded, err := ann.Load(filepath.Join(t.TempDir(), "missing.idx"), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded {
		t.Error("a missing snapshot should report loaded=false")
	}
}

func TestANNLoadStaleSnapshotRebuilds(t *testing.T) {
	ann := buildTestIndex(t)
	path := filepath.Join(t.TempDir(), "ann.idx")
	if err := ann.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// One item was removed from the store since the snapshot was written.
	stale := []Candidate{
		{ItemID: 1, Vector: []float32{1, 0, 0}},
		{ItemID: 2, Vector: []float32{0.9, 0.1, 0}},
	}
	restored := NewANNIndex()
	loaded, err := restored.Load(path, stale)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded {
		t.Error("a snapshot out of step with the store should not load")
	}
}

func TestANNSaveEmptyRemovesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ann.idx")
	if err := os.WriteFile(path, []byte("old snapshot"), 0o600); err != nil {
		t.Fatal(err)
	}

	ann := NewANNIndex()
	if err := ann.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("saving an empty index should remove the stale snapshot")
	}
}

func TestANNBuildSkipsMismatchedDimensions(t *testing.T) {
	ann := NewANNIndex()
	ann.Build([]Candidate{
		{ItemID: 1, Vector: []float32{1, 0, 0}},
		{ItemID: 2, Vector: []float32{1, 0}}, // older model width
	})
	if ann.Len() != 1 {
		t.Errorf("expected 1 indexed item, got %d", ann.Len())
	}
}

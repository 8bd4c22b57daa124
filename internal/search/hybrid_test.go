package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/database"
)

// fakeLexical serves canned full-text matches.
type fakeLexical struct {
	matches []catalog.Match
	err     error
}

func (f *fakeLexical) LexicalSearch(ctx context.Context, query string, limit int) ([]catalog.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func TestFuseWeightedSum(t *testing.T) {
	// Lexical {A: 1.0}, semantic {A: 0.8, B: 0.8}, weights 0.6/0.4:
	// A = 0.6*1.0 + 0.4*0.8 = 0.92, B = 0.4*0.8 = 0.32.
	lexical := []catalog.Match{{ItemID: 1, Score: 1.0}}
	semantic := []Result{
		{ItemID: 1, Score: 0.8, Match: MatchSemantic},
		{ItemID: 2, Score: 0.8, Match: MatchSemantic},
	}

	fused := fuse(lexical, semantic, 0.6, 0.4)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(fused))
	}
	if fused[0].ItemID != 1 {
		t.Fatalf("item 1 should rank first, got %d", fused[0].ItemID)
	}
	if math.Abs(fused[0].Score-0.92) > 1e-9 {
		t.Errorf("item 1 score: expected 0.92, got %f", fused[0].Score)
	}
	if math.Abs(fused[1].Score-0.32) > 1e-9 {
		t.Errorf("item 2 score: expected 0.32, got %f", fused[1].Score)
	}
	if fused[0].Match != MatchHybrid {
		t.Errorf("item on both lists should be hybrid, got %s", fused[0].Match)
	}
	if fused[1].Match != MatchSemantic {
		t.Errorf("semantic-only item should keep its match type, got %s", fused[1].Match)
	}
}

func TestFuseLexicalOnlyKeepsMatchType(t *testing.T) {
	fused := fuse([]catalog.Match{{ItemID: 5, Score: 0.5}}, nil, 0.6, 0.4)
	if len(fused) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fused))
	}
	if fused[0].Match != MatchLexical {
		t.Errorf("expected lexical match type, got %s", fused[0].Match)
	}
	if math.Abs(fused[0].Score-0.3) > 1e-9 {
		t.Errorf("expected scaled score 0.3, got %f", fused[0].Score)
	}
}

func TestHybridSearchFusesBothPaths(t *testing.T) {
	lexical := &fakeLexical{matches: []catalog.Match{{ItemID: 1, Score: 1.0}}}
	embStore := &fakeEmbeddingStore{rows: []database.Embedding{
		contentRow(1, []float32{1, 0}),
		contentRow(2, []float32{1, 0.1}),
	}}
	embedder := &fakeEmbedder{vector: []float32{1, 0}, ready: true}
	engine := NewEngine(embStore, embedder, nil)
	hybrid := NewHybrid(lexical, engine, embedder, 0.6, 0.4, nil)

	results, err := hybrid.Search(context.Background(), "cats", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(results))
	}
	if results[0].ItemID != 1 || results[0].Match != MatchHybrid {
		t.Fatalf("item 1 should rank first as a hybrid hit, got %+v", results[0])
	}
	if results[1].Match != MatchSemantic {
		t.Errorf("item 2 should be semantic-only, got %s", results[1].Match)
	}
}

func TestHybridFallsBackWhenSemanticUnavailable(t *testing.T) {
	lexical := &fakeLexical{matches: []catalog.Match{
		{ItemID: 1, Score: 1.0},
		{ItemID: 2, Score: 0.5},
	}}
	embedder := &fakeEmbedder{ready: false} // provider never configured
	engine := NewEngine(&fakeEmbeddingStore{}, embedder, nil)
	hybrid := NewHybrid(lexical, engine, embedder, 0.6, 0.4, nil)

	results, err := hybrid.Search(context.Background(), "cats", 10)
	if err != nil {
		t.Fatalf("lexical-only fallback should not error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 lexical results, got %d", len(results))
	}
	for _, r := range results {
		if r.Match != MatchLexical {
			t.Errorf("fallback results must be lexical, got %s", r.Match)
		}
	}
}

func TestHybridFallsBackWhenSemanticFails(t *testing.T) {
	lexical := &fakeLexical{matches: []catalog.Match{{ItemID: 1, Score: 1.0}}}
	embedder := &fakeEmbedder{err: errors.New("model crashed"), ready: true}
	engine := NewEngine(&fakeEmbeddingStore{}, embedder, nil)
	hybrid := NewHybrid(lexical, engine, embedder, 0.6, 0.4, nil)

	results, err := hybrid.Search(context.Background(), "cats", 10)
	if err != nil {
		t.Fatalf("semantic failure should degrade, not error: %v", err)
	}
	if len(results) != 1 || results[0].Match != MatchLexical {
		t.Fatalf("expected lexical-only results, got %+v", results)
	}
}

func TestHybridPropagatesLexicalError(t *testing.T) {
	lexical := &fakeLexical{err: errors.New("fts index corrupt")}
	embedder := &fakeEmbedder{ready: false}
	engine := NewEngine(&fakeEmbeddingStore{}, embedder, nil)
	hybrid := NewHybrid(lexical, engine, embedder, 0.6, 0.4, nil)

	if _, err := hybrid.Search(context.Background(), "cats", 10); err == nil {
		t.Fatal("lexical failure should propagate")
	}
}

func TestHybridTruncatesToLimit(t *testing.T) {
	lexical := &fakeLexical{matches: []catalog.Match{
		{ItemID: 1, Score: 1.0},
		{ItemID: 2, Score: 0.9},
		{ItemID: 3, Score: 0.8},
	}}
	embedder := &fakeEmbedder{ready: false}
	engine := NewEngine(&fakeEmbeddingStore{}, embedder, nil)
	hybrid := NewHybrid(lexical, engine, embedder, 0.6, 0.4, nil)

	results, err := hybrid.Search(context.Background(), "cats", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(results))
	}
}

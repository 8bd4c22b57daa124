// Package search ranks catalog items for a query: the semantic engine scores
// stored embeddings by cosine similarity, the hybrid coordinator fuses those
// scores with the catalog's lexical matches into one list.
package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/embedding"
)

// MatchType says which search path produced a result.
type MatchType string

const (
	MatchLexical  MatchType = "lexical"
	MatchSemantic MatchType = "semantic"
	MatchHybrid   MatchType = "hybrid"
)

// Result is one ranked search hit.
type Result struct {
	ItemID int64     `json:"item_id"`
	Score  float64   `json:"score"`
	Match  MatchType `json:"match"`
}

// Candidate pairs an item id with its stored vector.
type Candidate struct {
	ItemID int64
	Vector []float32
}

// QueryEmbedder turns query text into a vector comparable with the stored
// candidate vectors. Implemented by the indexer manager, which serializes all
// model access through its single mutex.
type QueryEmbedder interface {
	// EmbedQuery embeds query text with the same model that indexed the items.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Ready reports whether the semantic path is usable right now.
	Ready() bool
}

// Engine ranks stored embeddings against query vectors. Pure computation on
// top of the embedding store; all degradation (missing embeddings, dimension
// drift mid-migration) shows up as smaller result sets, never as errors.
type Engine struct {
	store    database.EmbeddingStore
	embedder QueryEmbedder
	ann      *ANNIndex // optional shortlist, nil = exact scan
	logger   *zap.Logger
}

// NewEngine creates a semantic search engine over the store.
func NewEngine(store database.EmbeddingStore, embedder QueryEmbedder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, embedder: embedder, logger: logger}
}

// SetANN attaches an in-memory shortlist index. Candidate loads go through
// the index first and only the shortlist is scored exactly.
func (e *Engine) SetANN(ann *ANNIndex) {
	e.ann = ann
}

// FindSimilar embeds the query and ranks the candidates by cosine
// similarity, best first, truncated to limit. Candidates whose dimension
// does not match the query vector are silently excluded; mixed-dimension
// sets are expected while a model migration is regenerating rows. The sort
// is stable, so equal scores keep candidate order and the output is
// deterministic for a fixed input.
func (e *Engine) FindSimilar(ctx context.Context, query string, candidates []Candidate, limit int) ([]Result, error) {
	queryVec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return rankCandidates(queryVec, candidates, limit, -1, 0), nil
}

// Semantic runs FindSimilar over every stored embedding for the content
// slot. When an ANN index is attached, the shortlist replaces the full scan.
func (e *Engine) Semantic(ctx context.Context, query string, limit int) ([]Result, error) {
	queryVec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := e.loadCandidates(ctx, queryVec, limit)
	if err != nil {
		return nil, err
	}
	return rankCandidates(queryVec, candidates, limit, -1, 0), nil
}

// SimilarTo ranks every other item against the subject's stored embedding,
// dropping scores below minSimilarity. A subject without a stored embedding
// (generation may still be in flight) returns an empty result, not an error.
func (e *Engine) SimilarTo(ctx context.Context, itemID int64, limit int, minSimilarity float64) ([]Result, error) {
	subject, err := e.store.GetBySubject(ctx, itemID, database.SlotContent)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, nil
	}

	candidates, err := e.loadCandidates(ctx, subject.Vector, limit)
	if err != nil {
		return nil, err
	}
	return rankCandidates(subject.Vector, candidates, limit, minSimilarity, itemID), nil
}

// loadCandidates returns the candidate set for a query vector: the ANN
// shortlist when one is attached, the whole slot otherwise.
func (e *Engine) loadCandidates(ctx context.Context, queryVec []float32, limit int) ([]Candidate, error) {
	if e.ann != nil && e.ann.Len() > 0 {
		if shortlist := e.ann.Shortlist(queryVec, shortlistSize(limit)); shortlist != nil {
			return shortlist, nil
		}
	}

	rows, err := e.store.AllBySlot(ctx, database.SlotContent)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, Candidate{ItemID: row.ItemID, Vector: row.Vector})
	}
	return candidates, nil
}

// rankCandidates scores candidates against the query vector and returns the
// top results. excludeID drops the subject itself from item-to-item ranking;
// minSimilarity below -1 disables the floor.
func rankCandidates(queryVec []float32, candidates []Candidate, limit int, minSimilarity float64, excludeID int64) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if excludeID != 0 && c.ItemID == excludeID {
			continue
		}
		if len(c.Vector) != len(queryVec) {
			continue
		}
		score, err := embedding.CosineSimilarity(queryVec, c.Vector)
		if err != nil {
			continue
		}
		if score < minSimilarity {
			continue
		}
		results = append(results, Result{ItemID: c.ItemID, Score: score, Match: MatchSemantic})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// shortlistSize oversamples the ANN shortlist so the exact re-rank has slack
// for approximation error.
func shortlistSize(limit int) int {
	if limit <= 0 {
		limit = 20
	}
	return limit * 4
}

package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/catalog"
)

// Lexical is the catalog full-text search primitive the hybrid path fans
// out to. Scores arrive already normalized to [0, 1], best match first.
type Lexical interface {
	LexicalSearch(ctx context.Context, query string, limit int) ([]catalog.Match, error)
}

// Hybrid fuses the catalog's lexical matches with the semantic engine's
// cosine ranking into one list. The two paths run independently; an item hit
// by both gets the sum of its weighted scores.
type Hybrid struct {
	lexical        Lexical
	engine         *Engine
	embedder       QueryEmbedder
	lexicalWeight  float64
	semanticWeight float64
	logger         *zap.Logger
}

// NewHybrid creates a hybrid coordinator with the given fusion weights.
func NewHybrid(lexical Lexical, engine *Engine, embedder QueryEmbedder, wLexical, wSemantic float64, logger *zap.Logger) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{
		lexical:        lexical,
		engine:         engine,
		embedder:       embedder,
		lexicalWeight:  wLexical,
		semanticWeight: wSemantic,
		logger:         logger,
	}
}

// Search runs both paths and fuses the results, best first, truncated to
// limit. The semantic path being unavailable (provider not configured, model
// unhealthy) or failing degrades the search to lexical-only results with the
// same shape; lexical failure is the only error the caller sees.
func (h *Hybrid) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	lexical, err := h.lexical.LexicalSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	var semantic []Result
	if h.embedder.Ready() {
		semantic, err = h.engine.Semantic(ctx, query, limit)
		if err != nil {
			h.logger.Warn("semantic search failed, returning lexical-only results",
				zap.String("query", query), zap.Error(err))
			semantic = nil
		}
	}

	fused := fuse(lexical, semantic, h.lexicalWeight, h.semanticWeight)
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// fuse merges the two scored lists keyed by item id. Items on both lists
// get their weighted scores summed and the hybrid match type; single-path
// items keep their scaled score and origin. Ordering is by combined score
// descending, item id ascending on ties, so repeated runs are deterministic.
func fuse(lexical []catalog.Match, semantic []Result, wLexical, wSemantic float64) []Result {
	byID := make(map[int64]*Result, len(lexical)+len(semantic))
	for _, m := range lexical {
		byID[m.ItemID] = &Result{
			ItemID: m.ItemID,
			Score:  m.Score * wLexical,
			Match:  MatchLexical,
		}
	}
	for _, r := range semantic {
		if existing, ok := byID[r.ItemID]; ok {
			existing.Score += r.Score * wSemantic
			existing.Match = MatchHybrid
			continue
		}
		byID[r.ItemID] = &Result{
			ItemID: r.ItemID,
			Score:  r.Score * wSemantic,
			Match:  MatchSemantic,
		}
	}

	fused := make([]Result, 0, len(byID))
	for _, r := range byID {
		fused = append(fused, *r)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ItemID < fused[j].ItemID
	})
	return fused
}

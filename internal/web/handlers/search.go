package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/config"
	"github.com/adsamcik/riposte-index/internal/indexer"
	"github.com/adsamcik/riposte-index/internal/search"
)

// Searcher runs ranked queries over the catalog.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// SimilarFinder finds items near an existing item in embedding space.
type SimilarFinder interface {
	SimilarTo(ctx context.Context, itemID int64, limit int, minSimilarity float64) ([]search.Result, error)
}

// IndexControl is the slice of the index manager the API exposes.
type IndexControl interface {
	ResumeIfPending(ctx context.Context) error
	Statistics(ctx context.Context) (*indexer.Statistics, error)
	Ready() bool
}

// SearchHandler handles search, similarity and index endpoints.
type SearchHandler struct {
	searcher Searcher
	similar  SimilarFinder
	index    IndexControl
	catalog  catalog.Store
	tunables config.SearchTunables
	logger   *zap.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searcher Searcher, similar SimilarFinder, index IndexControl, cat catalog.Store, tunables config.SearchTunables, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{
		searcher: searcher,
		similar:  similar,
		index:    index,
		catalog:  cat,
		tunables: tunables,
		logger:   logger,
	}
}

// SearchHit is one API search result with the item snippet inlined.
type SearchHit struct {
	Item  *catalog.Item `json:"item"`
	Score float64       `json:"score"`
	Match string        `json:"match"`
}

// Search handles GET /search?q=&limit=
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := queryInt(r, "limit", h.tunables.DefaultLimit)

	results, err := h.searcher.Search(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("search failed", zap.String("query", sanitizeForLog(query)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	hits, err := h.hydrate(r.Context(), results)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(hits),
		"results": hits,
	})
}

// Similar handles GET /items/{id}/similar?limit=&min_similarity=
func (h *SearchHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid item ID")
		return
	}

	item, err := h.catalog.GetItemByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "item not found")
		return
	}

	limit := queryInt(r, "limit", h.tunables.DefaultLimit)
	minSimilarity := queryFloat(r, "min_similarity", h.tunables.MinSimilarity)

	results, err := h.similar.SimilarTo(r.Context(), id, limit, minSimilarity)
	if err != nil {
		h.logger.Error("similarity lookup failed", zap.Int64("item_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "similarity lookup failed")
		return
	}

	hits, err := h.hydrate(r.Context(), results)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "similarity lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"item_id": id,
		"count":   len(hits),
		"results": hits,
	})
}

// Stats handles GET /stats
func (h *SearchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.index.Statistics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// ResumeIndex handles POST /index/resume. The nudge is idempotent: if a
// catch-up run is already in flight nothing new starts.
func (h *SearchHandler) ResumeIndex(w http.ResponseWriter, r *http.Request) {
	if err := h.index.ResumeIfPending(r.Context()); err != nil {
		h.logger.Error("resume indexing failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "resume failed")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"resumed": true,
		"ready":   h.index.Ready(),
	})
}

// hydrate attaches item snippets to ranked results. Items deleted between
// ranking and lookup are dropped from the response.
func (h *SearchHandler) hydrate(ctx context.Context, results []search.Result) ([]SearchHit, error) {
	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		item, err := h.catalog.GetItemByID(ctx, res.ItemID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue
		}
		hits = append(hits, SearchHit{
			Item:  item,
			Score: res.Score,
			Match: string(res.Match),
		})
	}
	return hits, nil
}

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/config"
	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/dedupe"
	"github.com/adsamcik/riposte-index/internal/indexer"
	"github.com/adsamcik/riposte-index/internal/search"
)

type noopSearcher struct{}

func (noopSearcher) Search(context.Context, string, int) ([]search.Result, error) { return nil, nil }

type noopSimilar struct{}

func (noopSimilar) SimilarTo(context.Context, int64, int, float64) ([]search.Result, error) {
	return nil, nil
}

type noopIndex struct{}

func (noopIndex) ResumeIfPending(context.Context) error { return nil }
func (noopIndex) Statistics(context.Context) (*indexer.Statistics, error) {
	return &indexer.Statistics{}, nil
}
func (noopIndex) Ready() bool { return false }

type noopScanner struct{}

func (noopScanner) Scan(context.Context, int, func(dedupe.Progress)) (*dedupe.ScanResult, error) {
	return &dedupe.ScanResult{}, nil
}

type noopResolver struct{}

func (noopResolver) Merge(context.Context, int64, dedupe.MergeInput) error { return nil }
func (noopResolver) Dismiss(context.Context, int64) error                  { return nil }

type noopCatalog struct{}

func (noopCatalog) InsertItem(context.Context, *catalog.Item) (int64, error)  { return 0, nil }
func (noopCatalog) GetItemByID(context.Context, int64) (*catalog.Item, error) { return nil, nil }
func (noopCatalog) UpdateItemFields(context.Context, int64, catalog.ItemUpdate) error {
	return nil
}
func (noopCatalog) DeleteItem(context.Context, int64) error                     { return nil }
func (noopCatalog) ListItems(context.Context, int, int) ([]catalog.Item, error) { return nil, nil }
func (noopCatalog) CountItems(context.Context) (int, error)                     { return 0, nil }
func (noopCatalog) LexicalSearch(context.Context, string, int) ([]catalog.Match, error) {
	return nil, nil
}

type noopPairs struct{}

func (noopPairs) InsertDuplicate(context.Context, *database.PotentialDuplicate) (bool, error) {
	return false, nil
}
func (noopPairs) GetDuplicate(context.Context, int64) (*database.PotentialDuplicate, error) {
	return nil, database.ErrNotFound
}
func (noopPairs) ListDuplicatesByStatus(context.Context, database.DuplicateStatus) ([]database.PotentialDuplicate, error) {
	return nil, nil
}
func (noopPairs) SetDuplicateStatus(context.Context, int64, database.DuplicateStatus) error {
	return nil
}
func (noopPairs) TrackedPairs(context.Context) (map[database.PairKey]bool, error) { return nil, nil }
func (noopPairs) ClearPendingDuplicates(context.Context) (int64, error)           { return 0, nil }
func (noopPairs) ForgetDuplicateHistory(context.Context) (int64, error)           { return 0, nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Tunables.Search = config.SearchTunables{DefaultLimit: 20, MinSimilarity: 0.3}
	cfg.Tunables.Dedupe = config.DedupeTunables{Sensitivity: 10}

	return NewServer(cfg, "127.0.0.1", 0, Deps{
		Catalog:  noopCatalog{},
		Pairs:    noopPairs{},
		Searcher: noopSearcher{},
		Similar:  noopSimilar{},
		Index:    noopIndex{},
		Scanner:  noopScanner{},
		Resolver: noopResolver{},
	}, zap.NewNop())
}

func TestServer_HealthRoute(t *testing.T) {
	server := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from health route, got %d", recorder.Code)
	}
}

func TestServer_RoutesRegistered(t *testing.T) {
	server := testServer(t)

	// Unknown items produce 404 from the handler, not from the router; a
	// router-level 404 would mean the route is missing.
	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/api/v1/search?q=hello", http.StatusOK},
		{"GET", "/api/v1/items/1/similar", http.StatusNotFound},
		{"GET", "/api/v1/stats", http.StatusOK},
		{"POST", "/api/v1/index/resume", http.StatusAccepted},
		{"GET", "/api/v1/duplicates", http.StatusOK},
		{"POST", "/api/v1/duplicates/clear-pending", http.StatusOK},
		{"DELETE", "/api/v1/duplicates/history", http.StatusOK},
	}

	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		recorder := httptest.NewRecorder()
		server.Router().ServeHTTP(recorder, req)
		if recorder.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, recorder.Code)
		}
	}
}

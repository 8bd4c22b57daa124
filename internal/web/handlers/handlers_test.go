package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/config"
	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/dedupe"
	"github.com/adsamcik/riposte-index/internal/indexer"
	"github.com/adsamcik/riposte-index/internal/search"
)

// testSearchTunables mirrors the embedded defaults without loading config.
func testSearchTunables() config.SearchTunables {
	return config.SearchTunables{
		LexicalWeight:  0.6,
		SemanticWeight: 0.4,
		MinSimilarity:  0.3,
		DefaultLimit:   20,
	}
}

func testDedupeTunables() config.DedupeTunables {
	return config.DedupeTunables{Sensitivity: 10, HashWorkers: 2}
}

func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Fatalf("expected status %d, got %d (body: %s)", expected, recorder.Code, recorder.Body.String())
	}
}

func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
}

// routeRequest mounts the handler at pattern and serves one request, so chi
// URL parameters resolve.
func routeRequest(t *testing.T, method, pattern string, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, handler)
	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, req)
	return recorder
}

type fakeSearcher struct {
	results   []search.Result
	err       error
	lastQuery string
	lastLimit int
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int) ([]search.Result, error) {
	f.lastQuery = query
	f.lastLimit = limit
	return f.results, f.err
}

type fakeSimilar struct {
	results []search.Result
	err     error
	lastMin float64
}

func (f *fakeSimilar) SimilarTo(_ context.Context, _ int64, _ int, minSimilarity float64) ([]search.Result, error) {
	f.lastMin = minSimilarity
	return f.results, f.err
}

type fakeIndex struct {
	stats     *indexer.Statistics
	statsErr  error
	resumeErr error
	resumed   int
	ready     bool
}

func (f *fakeIndex) ResumeIfPending(context.Context) error { f.resumed++; return f.resumeErr }
func (f *fakeIndex) Statistics(context.Context) (*indexer.Statistics, error) {
	return f.stats, f.statsErr
}
func (f *fakeIndex) Ready() bool { return f.ready }

// fakeCatalog serves items from a map; only the read paths matter here.
type fakeCatalog struct {
	items map[int64]*catalog.Item
}

func (f *fakeCatalog) InsertItem(context.Context, *catalog.Item) (int64, error) { return 0, nil }
func (f *fakeCatalog) GetItemByID(_ context.Context, id int64) (*catalog.Item, error) {
	return f.items[id], nil
}
func (f *fakeCatalog) UpdateItemFields(context.Context, int64, catalog.ItemUpdate) error { return nil }
func (f *fakeCatalog) DeleteItem(context.Context, int64) error                           { return nil }
func (f *fakeCatalog) ListItems(context.Context, int, int) ([]catalog.Item, error)       { return nil, nil }
func (f *fakeCatalog) CountItems(context.Context) (int, error)                           { return len(f.items), nil }
func (f *fakeCatalog) LexicalSearch(context.Context, string, int) ([]catalog.Match, error) {
	return nil, nil
}

type fakePairs struct {
	pending []database.PotentialDuplicate
	listErr error
	cleared int64
	deleted int64
}

func (f *fakePairs) InsertDuplicate(context.Context, *database.PotentialDuplicate) (bool, error) {
	return false, nil
}
func (f *fakePairs) GetDuplicate(context.Context, int64) (*database.PotentialDuplicate, error) {
	return nil, database.ErrNotFound
}
func (f *fakePairs) ListDuplicatesByStatus(_ context.Context, status database.DuplicateStatus) ([]database.PotentialDuplicate, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if status != database.DuplicatePending {
		return nil, nil
	}
	return f.pending, nil
}
func (f *fakePairs) SetDuplicateStatus(context.Context, int64, database.DuplicateStatus) error {
	return nil
}
func (f *fakePairs) TrackedPairs(context.Context) (map[database.PairKey]bool, error) {
	return nil, nil
}
func (f *fakePairs) ClearPendingDuplicates(context.Context) (int64, error) {
	return f.cleared, nil
}
func (f *fakePairs) ForgetDuplicateHistory(context.Context) (int64, error) {
	return f.deleted, nil
}

type fakeScanner struct {
	result    *dedupe.ScanResult
	err       error
	started   chan struct{}
	startOnce sync.Once
	release   chan struct{}
	gotSens   int
}

func (f *fakeScanner) Scan(ctx context.Context, sensitivity int, progress func(dedupe.Progress)) (*dedupe.ScanResult, error) {
	f.gotSens = sensitivity
	if f.started != nil {
		// The same fake may serve several StartScan calls in one test;
		// the channel only signals the first start.
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if progress != nil {
		progress(dedupe.Progress{Hashed: 1, Total: 1})
	}
	return f.result, nil
}

type fakeResolver struct {
	mergeErr   error
	dismissErr error
	merged     []int64
	dismissed  []int64
	lastInput  dedupe.MergeInput
}

func (f *fakeResolver) Merge(_ context.Context, id int64, input dedupe.MergeInput) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, id)
	f.lastInput = input
	return nil
}

func (f *fakeResolver) Dismiss(_ context.Context, id int64) error {
	if f.dismissErr != nil {
		return f.dismissErr
	}
	f.dismissed = append(f.dismissed, id)
	return nil
}

// Package indexer keeps the embedding index in step with the catalog: it
// generates vectors for new items, invalidates rows when the model version
// advances, and catches up missing or stale rows in the background. All
// model access funnels through one mutex because the provider is a single
// shared instance that is not safe for concurrent invocation.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/embedding"
)

// ErrProviderUnavailable is returned when the configured embedding provider
// has not passed its warm-up probe. A missing provider is the permanent
// variant, reported as embedding.ErrNoProvider.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// Meta keys for operational state.
const (
	metaModelVersion   = "model_version"
	metaInitFailPrefix = "init_failures:"
)

// Store is the persistence surface the manager needs.
type Store interface {
	database.EmbeddingStore
	database.MetaStore
}

// Statistics summarizes index health for the stats surface.
type Statistics struct {
	ValidCount              int            `json:"valid_count"`
	PendingCount            int            `json:"pending_count"`
	RegenerationNeededCount int            `json:"regeneration_needed_count"`
	ModelVersion            string         `json:"model_version"`
	CountsByVersion         map[string]int `json:"counts_by_version"`
	LastError               string         `json:"last_error,omitempty"`
	IsFullyIndexed          bool           `json:"is_fully_indexed"`
}

// Manager orchestrates embedding generation and background catch-up.
type Manager struct {
	store     Store
	catalog   catalog.Store
	provider  embedding.Provider // nil disables the semantic path
	logger    *zap.Logger
	build     string
	batchSize int

	// modelMu guards the shared model instance; every Embed/Init call holds it.
	modelMu sync.Mutex
	// warmupMu keeps one warm-up flow's three steps from interleaving with
	// another's, so catch-up is never scheduled before upgrade-marking lands.
	warmupMu sync.Mutex

	healthy atomic.Bool
	running atomic.Bool

	stateMu  sync.Mutex
	lastErr  string
	onStored func(itemID int64, vector []float32)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a lifecycle manager. provider may be nil when the
// semantic path is disabled; every generation call then reports
// embedding.ErrNoProvider and search degrades to lexical-only. build tags the
// init-failure counter so a broken model version is attributable.
func NewManager(store Store, cat catalog.Store, provider embedding.Provider, build string, batchSize int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		catalog:   cat,
		provider:  provider,
		logger:    logger,
		build:     build,
		batchSize: batchSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetOnStored registers a hook invoked after each successful upsert,
// used to keep the ANN shortlist index warm.
func (m *Manager) SetOnStored(fn func(itemID int64, vector []float32)) {
	m.stateMu.Lock()
	m.onStored = fn
	m.stateMu.Unlock()
}

// Close stops background work and waits for it to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Ready reports whether the semantic path is usable right now.
func (m *Manager) Ready() bool {
	return m.provider != nil && m.healthy.Load()
}

// Running reports whether a background catch-up run is in flight.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// EmbedQuery embeds search-query text through the shared model, serialized
// behind the same mutex as index generation.
func (m *Manager) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if m.provider == nil {
		return nil, embedding.ErrNoProvider
	}
	if !m.healthy.Load() {
		return nil, ErrProviderUnavailable
	}
	m.modelMu.Lock()
	defer m.modelMu.Unlock()
	return m.provider.Embed(ctx, text)
}

// GenerateAndStore embeds text and persists the vector for (itemID, slot),
// replacing any prior row. An all-zero vector means the model produced no
// usable signal (for example an uninitialized backend); nothing is persisted
// and the call reports false so the item stays pending instead of poisoning
// the index.
func (m *Manager) GenerateAndStore(ctx context.Context, itemID int64, text string, slot database.Slot) (bool, error) {
	if m.provider == nil {
		return false, embedding.ErrNoProvider
	}

	m.modelMu.Lock()
	vector, err := m.provider.Embed(ctx, text)
	m.modelMu.Unlock()
	if err != nil {
		m.setLastError(err)
		return false, fmt.Errorf("embed item %d: %w", itemID, err)
	}

	if embedding.IsZero(vector) {
		m.logger.Warn("embedding came back all zero, not storing",
			zap.Int64("item_id", itemID))
		return false, nil
	}

	emb := &database.Embedding{
		ItemID:         itemID,
		Slot:           slot,
		Vector:         vector,
		Dimension:      len(vector),
		ModelVersion:   m.provider.ModelVersion(),
		GeneratedAt:    time.Now().UTC(),
		SourceTextHash: embedding.HashText(text),
	}
	if err := m.store.Upsert(ctx, emb); err != nil {
		return false, fmt.Errorf("store embedding for item %d: %w", itemID, err)
	}

	m.stateMu.Lock()
	hook := m.onStored
	m.stateMu.Unlock()
	if hook != nil {
		hook(itemID, vector)
	}
	return true, nil
}

// WarmUpAndResumeIndexing runs the ordered warm-up flow: probe the provider,
// mark rows from older model versions stale, and schedule catch-up if any
// pending or stale work remains. A failed probe bumps the per-build failure
// counter and returns nil; the flow is retried on the next resume event.
func (m *Manager) WarmUpAndResumeIndexing(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	m.warmupMu.Lock()
	defer m.warmupMu.Unlock()

	m.modelMu.Lock()
	err := m.provider.Init(ctx)
	m.modelMu.Unlock()
	if err != nil {
		m.healthy.Store(false)
		m.setLastError(err)
		if _, cerr := m.store.IncrementMeta(ctx, metaInitFailPrefix+m.build); cerr != nil {
			m.logger.Warn("recording init failure", zap.Error(cerr))
		}
		m.logger.Warn("embedding provider init failed, semantic path disabled until next resume",
			zap.Error(err))
		return nil
	}
	m.healthy.Store(true)

	current := m.provider.ModelVersion()
	last, ok, err := m.store.GetMeta(ctx, metaModelVersion)
	if err != nil {
		return fmt.Errorf("read stored model version: %w", err)
	}
	if !ok || last != current {
		marked, err := m.store.MarkStaleForModelVersion(ctx, current)
		if err != nil {
			return fmt.Errorf("mark stale rows: %w", err)
		}
		if marked > 0 {
			m.logger.Info("model version changed, flagged rows for regeneration",
				zap.String("from", last), zap.String("to", current),
				zap.Int64("flagged", marked))
		}
		if err := m.store.SetMeta(ctx, metaModelVersion, current); err != nil {
			return fmt.Errorf("store model version: %w", err)
		}
	}

	return m.scheduleIfPending(ctx)
}

// ResumeIfPending is the wake hook, called when the host becomes active
// again (watcher event, HTTP nudge, app start). An unhealthy provider gets a
// fresh warm-up attempt; a healthy one just re-checks for pending work. Safe
// to call from any goroutine at any time.
func (m *Manager) ResumeIfPending(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	if !m.healthy.Load() {
		return m.WarmUpAndResumeIndexing(ctx)
	}
	return m.scheduleIfPending(ctx)
}

// WatchActivity consumes became-active events until the channel closes or
// the manager shuts down.
func (m *Manager) WatchActivity(events <-chan struct{}) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				if err := m.ResumeIfPending(m.ctx); err != nil {
					m.logger.Warn("resume check failed", zap.Error(err))
				}
			}
		}
	}()
}

// scheduleIfPending starts the background catch-up job when any missing or
// stale rows remain. Scheduling while a run is already in flight is a no-op.
func (m *Manager) scheduleIfPending(ctx context.Context) error {
	pending, err := m.store.CountItemsWithoutEmbedding(ctx, database.SlotContent)
	if err != nil {
		return fmt.Errorf("count pending items: %w", err)
	}
	stale, err := m.store.CountNeedingRegeneration(ctx, database.SlotContent)
	if err != nil {
		return fmt.Errorf("count stale rows: %w", err)
	}
	if pending == 0 && stale == 0 {
		return nil
	}
	m.schedule()
	return nil
}

// schedule launches one background catch-up run, idempotently.
func (m *Manager) schedule() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.running.Store(false)
		if err := m.catchUp(m.ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			m.setLastError(err)
			m.logger.Warn("background indexing stopped", zap.Error(err))
		}
	}()
}

// CatchUp synchronously drains missing rows, then stale rows, one item at a
// time with each result committed individually. Interrupting it loses no
// finished work; the next run re-queries what is left. progress may be nil.
func (m *Manager) CatchUp(ctx context.Context, progress func(done, total int)) error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	defer m.running.Store(false)
	return m.catchUp(ctx, progress)
}

func (m *Manager) catchUp(ctx context.Context, progress func(done, total int)) error {
	if m.provider == nil {
		return nil
	}

	total := 0
	if progress != nil {
		pending, err := m.store.CountItemsWithoutEmbedding(ctx, database.SlotContent)
		if err != nil {
			return err
		}
		stale, err := m.store.CountNeedingRegeneration(ctx, database.SlotContent)
		if err != nil {
			return err
		}
		total = pending + stale
	}

	done := 0
	report := func() {
		done++
		if progress != nil {
			progress(done, total)
		}
	}

	if err := m.drain(ctx, m.store.IDsWithoutEmbedding, report); err != nil {
		return err
	}
	return m.drain(ctx, m.store.IDsNeedingRegeneration, report)
}

// drain repeatedly pulls a batch of item ids from query and indexes them. A
// batch that makes no progress ends the run; items that keep failing are
// left for the next scheduling pass instead of spinning here.
func (m *Manager) drain(ctx context.Context, query func(context.Context, database.Slot, int) ([]int64, error), report func()) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := query(ctx, database.SlotContent, m.batchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		stored := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := m.indexItem(ctx, id)
			if err != nil {
				m.logger.Warn("indexing item failed", zap.Int64("item_id", id), zap.Error(err))
				continue
			}
			if ok {
				stored++
			}
			report()
		}
		if stored == 0 {
			return nil
		}
	}
}

// indexItem embeds one item's current searchable text.
func (m *Manager) indexItem(ctx context.Context, itemID int64) (bool, error) {
	item, err := m.catalog.GetItemByID(ctx, itemID)
	if err != nil {
		return false, err
	}
	if item == nil {
		// Deleted between the batch query and now.
		return false, nil
	}
	text := item.SearchText()
	if text == "" {
		return false, nil
	}
	return m.GenerateAndStore(ctx, itemID, text, database.SlotContent)
}

// Statistics reports index health.
func (m *Manager) Statistics(ctx context.Context) (*Statistics, error) {
	valid, err := m.store.CountValid(ctx, database.SlotContent)
	if err != nil {
		return nil, err
	}
	pending, err := m.store.CountItemsWithoutEmbedding(ctx, database.SlotContent)
	if err != nil {
		return nil, err
	}
	stale, err := m.store.CountNeedingRegeneration(ctx, database.SlotContent)
	if err != nil {
		return nil, err
	}
	byVersion, err := m.store.CountByModelVersion(ctx)
	if err != nil {
		return nil, err
	}

	version := ""
	if m.provider != nil {
		version = m.provider.ModelVersion()
	}

	m.stateMu.Lock()
	lastErr := m.lastErr
	m.stateMu.Unlock()

	return &Statistics{
		ValidCount:              valid,
		PendingCount:            pending,
		RegenerationNeededCount: stale,
		ModelVersion:            version,
		CountsByVersion:         byVersion,
		LastError:               lastErr,
		IsFullyIndexed:          pending == 0 && stale == 0,
	}, nil
}

// InitFailureCount reads the init-failure counter for this build.
func (m *Manager) InitFailureCount(ctx context.Context) (int, error) {
	val, ok, err := m.store.GetMeta(ctx, metaInitFailPrefix+m.build)
	if err != nil || !ok {
		return 0, err
	}
	n := 0
	fmt.Sscanf(val, "%d", &n)
	return n, nil
}

func (m *Manager) setLastError(err error) {
	m.stateMu.Lock()
	m.lastErr = err.Error()
	m.stateMu.Unlock()
}

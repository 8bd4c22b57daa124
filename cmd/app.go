package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/config"
	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/database/postgres"
	"github.com/adsamcik/riposte-index/internal/database/sqlite"
	"github.com/adsamcik/riposte-index/internal/dedupe"
	"github.com/adsamcik/riposte-index/internal/embedding"
	"github.com/adsamcik/riposte-index/internal/importer"
	"github.com/adsamcik/riposte-index/internal/indexer"
	"github.com/adsamcik/riposte-index/internal/logging"
	"github.com/adsamcik/riposte-index/internal/search"
)

// app bundles the wired engines every command runs against.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   database.Store
	manager *indexer.Manager
	engine  *search.Engine
	hybrid  *search.Hybrid
	ann     *search.ANNIndex
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.Database.Driver {
	case "", "sqlite":
		return sqlite.New(cfg.Database.Path)
	case "postgres":
		return postgres.New(cfg.Database.URL,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// newApp wires store, provider, index manager and search engines from the
// environment. The caller must close the returned app.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	logger, err := logging.New(debugLogging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	provider, err := embedding.NewProviderFromConfig(ctx, cfg)
	if err != nil {
		store.Close()
		logger.Sync()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	manager := indexer.NewManager(store, store, provider, Version,
		cfg.Tunables.Indexing.BatchSize, logger)

	engine := search.NewEngine(store, manager, logger)

	var ann *search.ANNIndex
	if cfg.Search.ANNEnabled {
		ann = search.NewANNIndex()
		vectors, err := store.AllBySlot(ctx, database.SlotContent)
		if err != nil {
			manager.Close()
			store.Close()
			logger.Sync()
			return nil, fmt.Errorf("loading vectors for shortlist index: %w", err)
		}
		candidates := make([]search.Candidate, 0, len(vectors))
		for _, emb := range vectors {
			candidates = append(candidates, search.Candidate{ItemID: emb.ItemID, Vector: emb.Vector})
		}
		loaded := false
		if path := cfg.Search.ANNIndexPath; path != "" {
			loaded, err = ann.Load(path, candidates)
			if err != nil {
				logger.Warn("loading shortlist index snapshot, rebuilding", zap.Error(err))
				loaded = false
			}
		}
		if !loaded {
			ann.Build(candidates)
			if path := cfg.Search.ANNIndexPath; path != "" {
				if err := ann.Save(path); err != nil {
					logger.Warn("saving shortlist index snapshot", zap.Error(err))
				}
			}
		}
		engine.SetANN(ann)
		manager.SetOnStored(ann.Add)
		logger.Info("shortlist index ready",
			zap.Int("vectors", ann.Len()), zap.Bool("from_snapshot", loaded))
	}

	hybrid := search.NewHybrid(store, engine, manager,
		cfg.Tunables.Search.LexicalWeight, cfg.Tunables.Search.SemanticWeight, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		manager: manager,
		engine:  engine,
		hybrid:  hybrid,
		ann:     ann,
	}, nil
}

// newScanner builds a duplicate scanner over the app's store.
func (a *app) newScanner() *dedupe.Scanner {
	return dedupe.NewScanner(a.store, a.cfg.Tunables.Dedupe.HashWorkers, a.logger)
}

// newResolver builds a duplicate resolver over the app's store.
func (a *app) newResolver() *dedupe.Resolver {
	return dedupe.NewResolver(a.store, a.logger)
}

// newImporter builds an importer over the app's store.
func (a *app) newImporter() *importer.Importer {
	return importer.New(a.store, a.logger)
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	if a.ann != nil && a.cfg.Search.ANNIndexPath != "" {
		if err := a.ann.Save(a.cfg.Search.ANNIndexPath); err != nil {
			a.logger.Warn("saving shortlist index snapshot", zap.Error(err))
		}
	}
	a.manager.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

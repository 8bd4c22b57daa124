// Package watcher keeps the index in step with the library directory: new
// image files dropped into the watched tree are imported and the indexer is
// nudged awake. Losing the watch (unsupported filesystem, too many inotify
// handles) degrades to manual and HTTP nudges, never to a failed start.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/importer"
)

const defaultDebounce = 2 * time.Second

// Watcher watches the library root recursively and feeds new files to the
// importer. After every batch of imports it signals the wake channel, the
// indexer's became-active event stream.
type Watcher struct {
	root     string
	importer *importer.Importer
	wake     chan<- struct{}
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	timers   map[string]*time.Timer
	started  bool
	stopOnce sync.Once
}

// New creates a watcher over root. wake receives a non-blocking signal after
// each successful import.
func New(root string, im *importer.Importer, wake chan<- struct{}, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		root:     root,
		importer: im,
		wake:     wake,
		debounce: defaultDebounce,
		timers:   make(map[string]*time.Timer),
		logger:   logger,
	}
}

// Start establishes the watch and runs until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(fsw, w.root); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw
	w.started = true

	go w.run(ctx)
	return nil
}

// Stop tears the watch down.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
	})
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}

	// New subdirectories join the watch.
	if event.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := addRecursive(w.fsw, event.Name); err != nil {
				w.logger.Warn("watching new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}

	if !importer.IsImageFile(event.Name) {
		return
	}
	w.scheduleImport(ctx, event.Name)
}

// scheduleImport debounces per path; a file still being written fires the
// timer repeatedly and only the last write triggers the import.
func (w *Watcher) scheduleImport(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		_, imported, err := w.importer.ImportFile(ctx, path)
		if err != nil {
			w.logger.Warn("importing watched file", zap.String("path", path), zap.Error(err))
			return
		}
		if imported {
			w.logger.Info("imported new file", zap.String("path", path))
			select {
			case w.wake <- struct{}{}:
			default:
			}
		}
	})
}

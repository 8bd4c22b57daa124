// Package importer brings image files into the catalog. Each image may carry
// a JSON sidecar (<image>.json) with its metadata; files whose bytes are
// already in the catalog are skipped by content hash, so re-running an import
// never creates duplicates.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/fingerprint"
)

// Store is the persistence surface the importer needs.
type Store interface {
	catalog.Store
	database.HashStore
}

// Sidecar is the metadata file format, schema version "1.0". Emojis are the
// one required field.
type Sidecar struct {
	SchemaVersion string   `json:"schemaVersion"`
	Emojis        []string `json:"emojis"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	TextContent   string   `json:"textContent,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Source        string   `json:"source,omitempty"`
	CreatedAt     string   `json:"createdAt,omitempty"` // ISO 8601
	AppVersion    string   `json:"appVersion,omitempty"`
}

// Result summarizes an import run.
type Result struct {
	Imported    int     `json:"imported"`
	Skipped     int     `json:"skipped"` // already present by content hash
	Failed      int     `json:"failed"`
	ImportedIDs []int64 `json:"-"`
}

// Importer walks a library directory and inserts new items.
type Importer struct {
	store  Store
	logger *zap.Logger
}

// New creates an importer.
func New(store Store, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: store, logger: logger}
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// IsImageFile reports whether path has a supported image extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// ImportDir walks dir recursively and imports every image file not yet in
// the catalog. progress may be nil; it receives (processed, total) after
// each file. Individual file failures are counted and logged, never fatal.
func (im *Importer) ImportDir(ctx context.Context, dir string, progress func(done, total int)) (*Result, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	result := &Result{}
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		id, imported, err := im.ImportFile(ctx, path)
		switch {
		case err != nil:
			result.Failed++
			im.logger.Warn("importing file", zap.String("path", path), zap.Error(err))
		case imported:
			result.Imported++
			result.ImportedIDs = append(result.ImportedIDs, id)
		default:
			result.Skipped++
		}
		if progress != nil {
			progress(i+1, len(paths))
		}
	}
	return result, nil
}

// ImportFile imports one image. Returns the item id and whether a new item
// was created; an image whose bytes are already cataloged is skipped.
func (im *Importer) ImportFile(ctx context.Context, path string) (int64, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, fmt.Errorf("read image: %w", err)
	}

	contentHash := fingerprint.ContentHash(data)
	existing, found, err := im.store.FindItemByContentHash(ctx, contentHash)
	if err != nil {
		return 0, false, err
	}
	if found {
		return existing, false, nil
	}

	item := &catalog.Item{FilePath: path}
	if sidecar, err := readSidecar(path); err != nil {
		im.logger.Warn("unreadable sidecar, importing without metadata",
			zap.String("path", path), zap.Error(err))
	} else if sidecar != nil {
		applySidecar(item, sidecar)
	}

	id, err := im.store.InsertItem(ctx, item)
	if err != nil {
		return 0, false, fmt.Errorf("insert item: %w", err)
	}

	// The hashes were computed anyway; persisting them now saves the
	// duplicate scanner the work later.
	rec := &database.HashRecord{
		ItemID:      id,
		ContentHash: contentHash,
		ComputedAt:  time.Now().UTC(),
	}
	if phash, ok := fingerprint.PerceptualHash(data); ok {
		rec.PerceptualHash = phash
		rec.HasPerceptual = true
	}
	if err := im.store.UpsertHash(ctx, rec); err != nil {
		im.logger.Warn("storing hash record", zap.Int64("item_id", id), zap.Error(err))
	}

	return id, true, nil
}

// readSidecar loads <path>.json if it exists. A missing sidecar returns
// (nil, nil); a present but invalid one is an error.
func readSidecar(imagePath string) (*Sidecar, error) {
	data, err := os.ReadFile(imagePath + ".json")
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	if len(sc.Emojis) == 0 {
		return nil, fmt.Errorf("sidecar has no emojis")
	}
	return &sc, nil
}

func applySidecar(item *catalog.Item, sc *Sidecar) {
	item.Title = sc.Title
	item.Description = sc.Description
	item.TextContent = sc.TextContent
	item.Emojis = sc.Emojis
	item.Tags = sc.Tags
	item.Source = sc.Source
	if sc.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, sc.CreatedAt); err == nil {
			item.CreatedAt = ts.UTC()
		}
	}
}

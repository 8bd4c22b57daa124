package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/adsamcik/riposte-index/internal/database/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeImage(t *testing.T, dir, name string, seed uint8) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for x := range 40 {
		for y := range 40 {
			img.Set(x, y, color.RGBA{R: uint8(x*6) + seed, G: uint8(y * 6), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing image: %v", err)
	}
	return path
}

func writeSidecar(t *testing.T, imagePath string, sc Sidecar) {
	t.Helper()
	data, err := json.Marshal(sc)
	if err != nil {
		t.Fatalf("marshaling sidecar: %v", err)
	}
	if err := os.WriteFile(imagePath+".json", data, 0o644); err != nil {
		t.Fatalf("writing sidecar: %v", err)
	}
}

func TestImportDirWithSidecars(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	ctx := context.Background()

	path := writeImage(t, dir, "cat.jpg", 1)
	writeSidecar(t, path, Sidecar{
		SchemaVersion: "1.0",
		Emojis:        []string{"😹"},
		Title:         "funny cat",
		Tags:          []string{"cat", "funny"},
		CreatedAt:     "2023-06-01T12:00:00Z",
	})
	writeImage(t, dir, "dog.jpg", 99) // no sidecar

	im := New(store, nil)
	result, err := im.ImportDir(ctx, dir, nil)
	if err != nil {
		t.Fatalf("ImportDir failed: %v", err)
	}
	if result.Imported != 2 {
		t.Fatalf("expected 2 imported items, got %+v", result)
	}

	count, err := store.CountItems(ctx)
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 catalog items, got %d", count)
	}

	items, err := store.ListItems(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	var withMeta int
	for _, item := range items {
		if item.Title == "funny cat" {
			withMeta++
			if len(item.Emojis) != 1 || len(item.Tags) != 2 {
				t.Errorf("sidecar metadata not applied: %+v", item)
			}
			if item.CreatedAt.Year() != 2023 {
				t.Errorf("sidecar createdAt not applied: %v", item.CreatedAt)
			}
		}
		// Every import leaves a hash record behind.
		rec, err := store.GetHash(ctx, item.ID)
		if err != nil || rec == nil {
			t.Errorf("item %d should have a hash record: %v", item.ID, err)
		} else if !rec.HasPerceptual {
			t.Errorf("item %d should have a perceptual hash", item.ID)
		}
	}
	if withMeta != 1 {
		t.Errorf("expected exactly one item with sidecar metadata")
	}
}

func TestImportSkipsKnownContent(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	ctx := context.Background()

	writeImage(t, dir, "a.jpg", 1)
	im := New(store, nil)
	if _, err := im.ImportDir(ctx, dir, nil); err != nil {
		t.Fatalf("first import failed: %v", err)
	}

	// Same bytes under a different name: skipped, not re-imported.
	src, err := os.ReadFile(filepath.Join(dir, "a.jpg"))
	if err != nil {
		t.Fatalf("reading image: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "copy.jpg"), src, 0o644); err != nil {
		t.Fatalf("writing copy: %v", err)
	}

	result, err := im.ImportDir(ctx, dir, nil)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if result.Imported != 0 {
		t.Errorf("expected no new imports, got %d", result.Imported)
	}
	if result.Skipped != 2 {
		t.Errorf("expected 2 skipped files, got %d", result.Skipped)
	}

	count, err := store.CountItems(ctx)
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 catalog item, got %d", count)
	}
}

func TestImportInvalidSidecarFallsBack(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	ctx := context.Background()

	path := writeImage(t, dir, "broken.jpg", 5)
	if err := os.WriteFile(path+".json", []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing sidecar: %v", err)
	}

	im := New(store, nil)
	result, err := im.ImportDir(ctx, dir, nil)
	if err != nil {
		t.Fatalf("ImportDir failed: %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("a broken sidecar should not block the image import, got %+v", result)
	}

	items, err := store.ListItems(ctx, 1, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("ListItems failed: %v", err)
	}
	if items[0].Title != "" {
		t.Errorf("metadata should be empty without a usable sidecar, got %q", items[0].Title)
	}
}

func TestImportCountsUnreadableFiles(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	ctx := context.Background()

	// An entry that looks like an image but cannot be read.
	dead := filepath.Join(dir, "dead.jpg")
	if err := os.Symlink(filepath.Join(dir, "nowhere"), dead); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	writeImage(t, dir, "ok.jpg", 7)

	im := New(store, nil)
	result, err := im.ImportDir(ctx, dir, nil)
	if err != nil {
		t.Fatalf("ImportDir failed: %v", err)
	}
	if result.Imported != 1 || result.Failed != 1 {
		t.Errorf("expected 1 imported / 1 failed, got %+v", result)
	}
}

func TestIsImageFile(t *testing.T) {
	cases := map[string]bool{
		"photo.jpg":  true,
		"photo.JPEG": true,
		"photo.png":  true,
		"photo.webp": true,
		"photo.bmp":  true,
		"photo.gif":  true,
		"notes.txt":  false,
		"meta.json":  false,
		"photo":      false,
	}
	for path, want := range cases {
		if got := IsImageFile(path); got != want {
			t.Errorf("IsImageFile(%q) = %v, want %v", path, got, want)
		}
	}
}

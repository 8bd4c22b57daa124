package dedupe

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/adsamcik/riposte-index/internal/catalog"
	"github.com/adsamcik/riposte-index/internal/database"
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

func gradientImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{
				R: uint8(255 * x / w),
				G: uint8(255 * y / h),
				B: uint8(255 * (x + y) / (w + h)),
				A: 255,
			})
		}
	}
	return img
}

func checkerImage(w, h, cell int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	return buf.Bytes()
}

// addItem writes data to a file in dir and inserts a catalog item backed by it.
func addItem(t *testing.T, store *sqlite.Store, dir, name string, data []byte) int64 {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	id, err := store.InsertItem(context.Background(), &catalog.Item{
		Title:    name,
		FilePath: path,
	})
	if err != nil {
		t.Fatalf("inserting item: %v", err)
	}
	return id
}

func runScan(t *testing.T, scanner *Scanner, sensitivity int) *ScanResult {
	t.Helper()
	result, err := scanner.Scan(context.Background(), sensitivity, nil)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return result
}

func TestScanDetectsExactDuplicates(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	data := encodeJPEG(t, gradientImage(120, 120), 90)

	id1 := addItem(t, store, dir, "a.jpg", data)
	id2 := addItem(t, store, dir, "b.jpg", data) // byte-identical re-import

	scanner := NewScanner(store, 2, nil)
	result := runScan(t, scanner, 0)

	if result.HashedCount != 2 {
		t.Errorf("expected 2 hashed items, got %d", result.HashedCount)
	}
	if result.ExactPairs != 1 {
		t.Fatalf("expected 1 exact pair, got %d", result.ExactPairs)
	}

	pending, err := store.ListDuplicatesByStatus(context.Background(), database.DuplicatePending)
	if err != nil {
		t.Fatalf("listing pending pairs: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending pair, got %d", len(pending))
	}
	pair := pending[0]
	lo, hi := database.CanonicalPair(id1, id2)
	if pair.ItemID1 != lo || pair.ItemID2 != hi {
		t.Errorf("pair should be stored canonically as (%d, %d), got (%d, %d)",
			lo, hi, pair.ItemID1, pair.ItemID2)
	}
	if pair.HammingDistance != 0 {
		t.Errorf("exact match should have distance 0, got %d", pair.HammingDistance)
	}
	if pair.Method != database.DetectionExact {
		t.Errorf("expected exact detection, got %s", pair.Method)
	}

	// Both items share the same content hash.
	h1, err := store.GetHash(context.Background(), id1)
	if err != nil || h1 == nil {
		t.Fatalf("hash record for item 1: %v", err)
	}
	h2, err := store.GetHash(context.Background(), id2)
	if err != nil || h2 == nil {
		t.Fatalf("hash record for item 2: %v", err)
	}
	if h1.ContentHash != h2.ContentHash {
		t.Error("identical bytes should share a content hash")
	}
}

func TestScanDetectsNearDuplicates(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	img := gradientImage(200, 200)

	addItem(t, store, dir, "original.jpg", encodeJPEG(t, img, 95))
	addItem(t, store, dir, "recompressed.jpg", encodeJPEG(t, img, 40))
	addItem(t, store, dir, "unrelated.jpg", encodeJPEG(t, checkerImage(200, 200, 20), 90))

	scanner := NewScanner(store, 2, nil)
	result := runScan(t, scanner, 10)

	if result.ExactPairs != 0 {
		t.Errorf("different bytes should not be exact matches, got %d", result.ExactPairs)
	}
	if result.NearPairs != 1 {
		t.Fatalf("expected 1 near pair, got %d", result.NearPairs)
	}

	pending, err := store.ListDuplicatesByStatus(context.Background(), database.DuplicatePending)
	if err != nil {
		t.Fatalf("listing pending pairs: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending pair, got %d", len(pending))
	}
	if pending[0].Method != database.DetectionPerceptual {
		t.Errorf("expected perceptual detection, got %s", pending[0].Method)
	}
	if pending[0].HammingDistance <= 0 || pending[0].HammingDistance > 10 {
		t.Errorf("expected a small non-zero distance, got %d", pending[0].HammingDistance)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	data := encodeJPEG(t, gradientImage(120, 120), 90)

	addItem(t, store, dir, "a.jpg", data)
	addItem(t, store, dir, "b.jpg", data)

	scanner := NewScanner(store, 2, nil)
	first := runScan(t, scanner, 10)
	if first.ExactPairs != 1 {
		t.Fatalf("first scan should find 1 exact pair, got %d", first.ExactPairs)
	}

	second := runScan(t, scanner, 10)
	if second.HashedCount != 0 {
		t.Errorf("second scan should re-hash nothing, got %d", second.HashedCount)
	}
	if second.ExactPairs != 0 || second.NearPairs != 0 {
		t.Errorf("second scan should insert no new pairs, got %d exact / %d near",
			second.ExactPairs, second.NearPairs)
	}
}

func TestScanSkipsResolvedPairs(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	data := encodeJPEG(t, gradientImage(120, 120), 90)

	addItem(t, store, dir, "a.jpg", data)
	addItem(t, store, dir, "b.jpg", data)

	scanner := NewScanner(store, 2, nil)
	runScan(t, scanner, 10)

	pending, err := store.ListDuplicatesByStatus(context.Background(), database.DuplicatePending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending pair: %v", err)
	}
	if err := store.SetDuplicateStatus(context.Background(), pending[0].ID, database.DuplicateDismissed); err != nil {
		t.Fatalf("dismissing pair: %v", err)
	}

	// A dismissed pair stays dismissed across re-scans.
	result := runScan(t, scanner, 10)
	if result.ExactPairs != 0 {
		t.Errorf("dismissed pair must not be re-inserted, got %d new pairs", result.ExactPairs)
	}
	if result.PendingPairs != 0 {
		t.Errorf("expected no pending pairs, got %d", result.PendingPairs)
	}
}

func TestScanSkipsUnreadableAndUndecodableFiles(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	addItem(t, store, dir, "good.jpg", encodeJPEG(t, gradientImage(100, 100), 90))
	corruptID := addItem(t, store, dir, "corrupt.jpg", []byte("definitely not a jpeg"))
	// Item whose backing file is gone.
	missingID, err := store.InsertItem(context.Background(), &catalog.Item{
		Title: "missing", FilePath: filepath.Join(dir, "missing.jpg"),
	})
	if err != nil {
		t.Fatalf("inserting item: %v", err)
	}

	scanner := NewScanner(store, 2, nil)
	result := runScan(t, scanner, 10)

	if result.SkippedFiles != 1 {
		t.Errorf("expected 1 skipped file, got %d", result.SkippedFiles)
	}
	if result.HashedCount != 2 {
		t.Errorf("expected 2 hashed items, got %d", result.HashedCount)
	}

	// The corrupt file still gets a content hash, only the perceptual hash
	// is absent.
	corruptHash, err := store.GetHash(context.Background(), corruptID)
	if err != nil || corruptHash == nil {
		t.Fatalf("corrupt item should still have a hash record: %v", err)
	}
	if corruptHash.HasPerceptual {
		t.Error("undecodable image must not get a perceptual hash")
	}

	missingHash, err := store.GetHash(context.Background(), missingID)
	if err != nil {
		t.Fatalf("GetHash failed: %v", err)
	}
	if missingHash != nil {
		t.Error("unreadable file should not get a hash record")
	}
}

func TestScanReportsProgress(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		addItem(t, store, dir, name, encodeJPEG(t, gradientImage(60, 60), 90))
	}

	scanner := NewScanner(store, 1, nil)
	var reports []Progress
	_, err := scanner.Scan(context.Background(), 10, func(p Progress) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 progress reports, got %d", len(reports))
	}
	last := reports[len(reports)-1]
	if last.Hashed != 3 || last.Total != 3 {
		t.Errorf("final progress should be 3/3, got %d/%d", last.Hashed, last.Total)
	}
}

func TestScanRejectsBadSensitivity(t *testing.T) {
	scanner := NewScanner(newTestStore(t), 1, nil)
	if _, err := scanner.Scan(context.Background(), 65, nil); err == nil {
		t.Error("sensitivity above 64 should be rejected")
	}
	if _, err := scanner.Scan(context.Background(), -1, nil); err == nil {
		t.Error("negative sensitivity should be rejected")
	}
}

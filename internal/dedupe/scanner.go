// Package dedupe finds duplicate items by file fingerprints and resolves
// them: the scanner hashes the catalog and records candidate pairs, the
// resolver turns a pair into one surviving item or dismisses it.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/fingerprint"
)

// ErrScanInProgress is returned when a scan is started while another one is
// still running.
var ErrScanInProgress = errors.New("duplicate scan already in progress")

// ScanStore is the persistence surface the scanner needs.
type ScanStore interface {
	database.HashStore
	database.DuplicateStore
}

// Progress reports hash-phase progress.
type Progress struct {
	Hashed int `json:"hashed"`
	Total  int `json:"total"`
}

// ScanResult summarizes a completed scan.
type ScanResult struct {
	HashedCount  int `json:"hashed_count"`  // items hashed this run
	SkippedFiles int `json:"skipped_files"` // unreadable files, counted not fatal
	ExactPairs   int `json:"exact_pairs"`   // new pairs found by content hash
	NearPairs    int `json:"near_pairs"`    // new pairs found by perceptual distance
	PendingPairs int `json:"pending_pairs"` // total pending pairs after the scan
}

// Scanner runs the two-phase duplicate scan. One scan at a time; a second
// Scan call while one is running fails with ErrScanInProgress.
type Scanner struct {
	store   ScanStore
	workers int
	logger  *zap.Logger
	running atomic.Bool
}

// NewScanner creates a scanner hashing with the given worker count.
func NewScanner(store ScanStore, workers int, logger *zap.Logger) *Scanner {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{store: store, workers: workers, logger: logger}
}

// Scan hashes every item that has no hash record yet, then compares all
// records for exact and near duplicates within the sensitivity threshold
// (maximum Hamming distance for the perceptual pass; 0 means exact
// perceptual matches only). progress may be nil.
//
// The hash phase is incremental and resumable: each record is committed as
// it completes, and a re-run skips items already hashed. The compare phase
// is a pure read over the stored records. Pairs already tracked in any
// status are never re-inserted, so dismissals and merges stick across scans.
func (s *Scanner) Scan(ctx context.Context, sensitivity int, progress func(Progress)) (*ScanResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.running.Store(false)

	if sensitivity < 0 || sensitivity > 64 {
		return nil, fmt.Errorf("sensitivity %d out of range [0, 64]", sensitivity)
	}

	result := &ScanResult{}
	if err := s.hashPhase(ctx, result, progress); err != nil {
		return nil, err
	}
	if err := s.comparePhase(ctx, sensitivity, result); err != nil {
		return nil, err
	}

	pending, err := s.store.ListDuplicatesByStatus(ctx, database.DuplicatePending)
	if err != nil {
		return nil, err
	}
	result.PendingPairs = len(pending)
	return result, nil
}

// Running reports whether a scan is in flight.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// hashPhase computes missing hash records on a bounded worker pool. File
// read failures skip the item; decode failures store a record without a
// perceptual hash. Both are counted, neither is fatal.
func (s *Scanner) hashPhase(ctx context.Context, result *ScanResult, progress func(Progress)) error {
	items, err := s.store.ItemsWithoutHash(ctx)
	if err != nil {
		return fmt.Errorf("list unhashed items: %w", err)
	}
	total := len(items)
	if total == 0 {
		if progress != nil {
			progress(Progress{Hashed: 0, Total: 0})
		}
		return nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		hashed  int
		skipped int
	)
	jobs := make(chan database.ItemFile)
	errCh := make(chan error, 1)

	for range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				rec, ok := s.hashItem(item)
				mu.Lock()
				if !ok {
					skipped++
				}
				mu.Unlock()
				if !ok {
					continue
				}
				if err := s.store.UpsertHash(ctx, rec); err != nil {
					select {
					case errCh <- fmt.Errorf("store hash for item %d: %w", item.ItemID, err):
					default:
					}
					continue
				}
				mu.Lock()
				hashed++
				snapshot := Progress{Hashed: hashed, Total: total}
				mu.Unlock()
				if progress != nil {
					progress(snapshot)
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	result.HashedCount = hashed
	result.SkippedFiles = skipped

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// hashItem fingerprints one backing file.
func (s *Scanner) hashItem(item database.ItemFile) (*database.HashRecord, bool) {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		s.logger.Warn("reading item file for hashing",
			zap.Int64("item_id", item.ItemID), zap.String("path", item.Path), zap.Error(err))
		return nil, false
	}

	rec := &database.HashRecord{
		ItemID:      item.ItemID,
		ContentHash: fingerprint.ContentHash(data),
		ComputedAt:  time.Now().UTC(),
	}
	if phash, ok := fingerprint.PerceptualHash(data); ok {
		rec.PerceptualHash = phash
		rec.HasPerceptual = true
	}
	return rec, true
}

// comparePhase detects duplicate pairs over the full hash set in memory.
// Exact matches group by identical content hash; near matches compare
// perceptual hashes pairwise. The catalog is small enough that the
// quadratic perceptual pass stays cheap.
func (s *Scanner) comparePhase(ctx context.Context, sensitivity int, result *ScanResult) error {
	records, err := s.store.AllHashes(ctx)
	if err != nil {
		return fmt.Errorf("load hash records: %w", err)
	}
	tracked, err := s.store.TrackedPairs(ctx)
	if err != nil {
		return fmt.Errorf("load tracked pairs: %w", err)
	}

	record := func(a, b int64, distance int, method database.DetectionMethod) (bool, error) {
		key := database.NewPairKey(a, b)
		if tracked[key] {
			return false, nil
		}
		inserted, err := s.store.InsertDuplicate(ctx, &database.PotentialDuplicate{
			ItemID1:         a,
			ItemID2:         b,
			HammingDistance: distance,
			Method:          method,
		})
		if err != nil {
			return false, err
		}
		tracked[key] = true
		return inserted, nil
	}

	// Exact duplicates: identical file bytes, Hamming distance 0.
	byContent := make(map[string][]int64)
	for _, rec := range records {
		byContent[rec.ContentHash] = append(byContent[rec.ContentHash], rec.ItemID)
	}
	for _, ids := range byContent {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				inserted, err := record(ids[i], ids[j], 0, database.DetectionExact)
				if err != nil {
					return err
				}
				if inserted {
					result.ExactPairs++
				}
			}
		}
	}

	// Near duplicates: perceptual hashes within the sensitivity threshold.
	var perceptual []database.HashRecord
	for _, rec := range records {
		if rec.HasPerceptual {
			perceptual = append(perceptual, rec)
		}
	}
	for i := 0; i < len(perceptual); i++ {
		for j := i + 1; j < len(perceptual); j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			distance := fingerprint.HammingDistance(perceptual[i].PerceptualHash, perceptual[j].PerceptualHash)
			if distance > sensitivity {
				continue
			}
			inserted, err := record(perceptual[i].ItemID, perceptual[j].ItemID, distance, database.DetectionPerceptual)
			if err != nil {
				return err
			}
			if inserted {
				result.NearPairs++
			}
		}
	}

	return nil
}

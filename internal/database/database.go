// Package database defines the derived-state entities (embeddings, hash
// records, duplicate pairs) and the storage contracts the index engines run
// against. Backends live in the sqlite and postgres subpackages.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/adsamcik/riposte-index/internal/catalog"
)

// ErrNotFound is returned for lookups of rows that must exist, such as
// resolving a duplicate pair by id.
var ErrNotFound = errors.New("not found")

// Slot distinguishes multiple embeddings per item. Only the content slot
// exists today; the key shape leaves room for alternates.
type Slot string

const (
	// SlotContent is the embedding of the item's searchable text bundle.
	SlotContent Slot = "content"
)

// Embedding is one stored vector, keyed by (ItemID, Slot).
type Embedding struct {
	ItemID            int64
	Slot              Slot
	Vector            []float32
	Dimension         int
	ModelVersion      string
	GeneratedAt       time.Time
	SourceTextHash    string // digest of the text the vector was generated from
	NeedsRegeneration bool
}

// HashRecord holds the fingerprints of one item's backing file. The
// perceptual hash is absent when the image could not be decoded.
type HashRecord struct {
	ItemID         int64
	ContentHash    string
	PerceptualHash uint64
	HasPerceptual  bool
	ComputedAt     time.Time
}

// DetectionMethod says how a duplicate pair was found.
type DetectionMethod string

const (
	DetectionExact      DetectionMethod = "exact"
	DetectionPerceptual DetectionMethod = "perceptual"
)

// DuplicateStatus is the lifecycle state of a PotentialDuplicate.
type DuplicateStatus string

const (
	DuplicatePending   DuplicateStatus = "pending"
	DuplicateDismissed DuplicateStatus = "dismissed"
	DuplicateMerged    DuplicateStatus = "merged"
)

// PotentialDuplicate is a candidate pair found by a scan. The item ids are
// stored in canonical order (ItemID1 < ItemID2) so a pair can never be
// tracked twice under mirrored keys. Rows survive resolution: dismissed and
// merged pairs stay recorded so re-scans do not resurface them.
type PotentialDuplicate struct {
	ID              int64           `json:"id"`
	ItemID1         int64           `json:"item_id_1"`
	ItemID2         int64           `json:"item_id_2"`
	HammingDistance int             `json:"hamming_distance"` // 0 for exact matches
	Method          DetectionMethod `json:"method"`
	Status          DuplicateStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      time.Time       `json:"resolved_at,omitzero"`
}

// CanonicalPair orders two item ids into the stored (low, high) form.
func CanonicalPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// PairKey is the canonical unordered pair key used for in-memory dedup of
// scan candidates against already-tracked rows.
type PairKey [2]int64

// NewPairKey canonicalizes two item ids into a PairKey.
func NewPairKey(a, b int64) PairKey {
	lo, hi := CanonicalPair(a, b)
	return PairKey{lo, hi}
}

// ItemFile pairs an item id with the path of its backing file.
type ItemFile struct {
	ItemID int64
	Path   string
}

// EmbeddingStore is the persistence contract for embeddings. No business
// logic; every method is a single atomic statement.
type EmbeddingStore interface {
	// GetBySubject returns the embedding for (itemID, slot), or nil when absent.
	GetBySubject(ctx context.Context, itemID int64, slot Slot) (*Embedding, error)

	// Upsert replaces any existing row for the same (itemID, slot).
	Upsert(ctx context.Context, emb *Embedding) error

	// DeleteEmbedding removes one row; missing rows are not an error.
	DeleteEmbedding(ctx context.Context, itemID int64, slot Slot) error

	// IDsWithoutEmbedding returns ids of items that have no row for the slot.
	IDsWithoutEmbedding(ctx context.Context, slot Slot, limit int) ([]int64, error)

	// IDsNeedingRegeneration returns ids of items whose row is flagged stale.
	IDsNeedingRegeneration(ctx context.Context, slot Slot, limit int) ([]int64, error)

	// MarkStaleForModelVersion flags every row whose model version differs,
	// returning the number of rows flagged.
	MarkStaleForModelVersion(ctx context.Context, exceptVersion string) (int64, error)

	// CountByModelVersion returns row counts grouped by model version.
	CountByModelVersion(ctx context.Context) (map[string]int, error)

	// CountValid counts rows for the slot not flagged for regeneration.
	CountValid(ctx context.Context, slot Slot) (int, error)

	// CountNeedingRegeneration counts rows for the slot flagged stale.
	CountNeedingRegeneration(ctx context.Context, slot Slot) (int, error)

	// CountItemsWithoutEmbedding counts items that have no row for the slot.
	CountItemsWithoutEmbedding(ctx context.Context, slot Slot) (int, error)

	// AllBySlot loads every embedding for the slot, the candidate set for
	// in-memory similarity ranking.
	AllBySlot(ctx context.Context, slot Slot) ([]Embedding, error)
}

// HashStore is the persistence contract for hash records.
type HashStore interface {
	// GetHash returns the record for the item, or nil when absent.
	GetHash(ctx context.Context, itemID int64) (*HashRecord, error)

	// UpsertHash replaces any existing record for the same item.
	UpsertHash(ctx context.Context, rec *HashRecord) error

	// AllHashes loads every record, the compare-phase working set.
	AllHashes(ctx context.Context) ([]HashRecord, error)

	// ItemsWithoutHash returns the items that still need hashing.
	ItemsWithoutHash(ctx context.Context) ([]ItemFile, error)

	// FindItemByContentHash returns the id of an item with this exact
	// content hash, if any.
	FindItemByContentHash(ctx context.Context, contentHash string) (int64, bool, error)
}

// DuplicateStore is the persistence contract for duplicate pairs.
type DuplicateStore interface {
	// InsertDuplicate records a new pair in canonical order with status
	// pending. Returns false without error when the pair is already tracked
	// in any status.
	InsertDuplicate(ctx context.Context, pd *PotentialDuplicate) (bool, error)

	// GetDuplicate resolves a pair by id; ErrNotFound when absent.
	GetDuplicate(ctx context.Context, id int64) (*PotentialDuplicate, error)

	// ListDuplicatesByStatus returns pairs with the given status, oldest first.
	ListDuplicatesByStatus(ctx context.Context, status DuplicateStatus) ([]PotentialDuplicate, error)

	// SetDuplicateStatus transitions a pair; ErrNotFound when absent.
	SetDuplicateStatus(ctx context.Context, id int64, status DuplicateStatus) error

	// TrackedPairs returns the canonical keys of every recorded pair,
	// regardless of status.
	TrackedPairs(ctx context.Context) (map[PairKey]bool, error)

	// ClearPendingDuplicates deletes pending pairs only, keeping the
	// dismissed/merged history sticky.
	ClearPendingDuplicates(ctx context.Context) (int64, error)

	// ForgetDuplicateHistory deletes every pair in every status.
	ForgetDuplicateHistory(ctx context.Context) (int64, error)
}

// MetaStore is a small key/value table for operational state such as the
// per-build initialization failure counter.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	IncrementMeta(ctx context.Context, key string) (int64, error)
}

// MergeRequest carries the fully-resolved outcome of a duplicate merge. The
// field values are decided by the caller before the transaction starts; the
// backend only applies them.
type MergeRequest struct {
	DuplicateID int64
	WinnerID    int64
	LoserID     int64
	Fields      catalog.ItemUpdate
}

// Merger applies a merge as one transaction: winner fields updated,
// loser-only embedding slots re-keyed to the winner, loser deleted with its
// derived state, pair marked merged. Any failure rolls back every step.
type Merger interface {
	ApplyMerge(ctx context.Context, req MergeRequest) error
}

// Store is the full storage surface a backend provides.
type Store interface {
	catalog.Store
	EmbeddingStore
	HashStore
	DuplicateStore
	MetaStore
	Merger

	Close() error
}

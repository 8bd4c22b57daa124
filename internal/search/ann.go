package search

import (
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW graph parameters. M is the max neighbor count per node; larger values
// trade memory for recall.
const annMaxNeighbors = 16

// ANNIndex is an optional in-memory HNSW shortlist over the content-slot
// embeddings. For libraries in the thousands an exact scan is already fast;
// the index exists for the long tail where it is not. Results are always
// re-ranked exactly, so the index only has to be approximately right.
type ANNIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[int64]
	vectors map[int64][]float32
}

// NewANNIndex creates an empty index.
func NewANNIndex() *ANNIndex {
	return &ANNIndex{vectors: make(map[int64][]float32)}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = annMaxNeighbors
	g.Ml = 1.0 / float64(annMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given candidates. Vectors whose
// width differs from the first candidate's are skipped; a migration window
// with mixed dimensions leaves the minority out of the shortlist and the
// exact re-rank handles them once regenerated.
func (a *ANNIndex) Build(candidates []Candidate) {
	g := newGraph()
	vectors := make(map[int64][]float32, len(candidates))
	dim := 0
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(c.Vector)
		}
		if len(c.Vector) != dim {
			continue
		}
		g.Add(hnsw.MakeNode(c.ItemID, c.Vector))
		vectors[c.ItemID] = c.Vector
	}

	a.mu.Lock()
	a.graph = g
	a.vectors = vectors
	a.mu.Unlock()
}

// Add inserts or replaces one item's vector.
func (a *ANNIndex) Add(itemID int64, vector []float32) {
	if len(vector) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.graph == nil {
		a.graph = newGraph()
	}
	for _, v := range a.vectors {
		if len(v) != len(vector) {
			return
		}
		break
	}
	a.graph.Add(hnsw.MakeNode(itemID, vector))
	a.vectors[itemID] = vector
}

// Remove deletes one item from the index. The HNSW graph has no true
// deletion; the id is dropped from the lookup map and filtered out of
// shortlists until the next full Build.
func (a *ANNIndex) Remove(itemID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.vectors, itemID)
}

// Len returns the number of indexed items.
func (a *ANNIndex) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.vectors)
}

// Save exports the graph to the given file. An empty index removes the file
// instead, so a stale snapshot never shadows a cleared library.
func (a *ANNIndex) Save(path string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.graph == nil || len(a.vectors) == 0 {
		_ = os.Remove(path)
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer f.Close()

	if err := a.graph.Export(f); err != nil {
		return fmt.Errorf("exporting graph: %w", err)
	}
	return nil
}

// Load restores a previously saved graph and rebuilds the vector lookup from
// the given candidates (the graph file does not carry them in a form worth
// trusting over the store). Returns false when no snapshot exists; the caller
// falls back to a full Build.
func (a *ANNIndex) Load(path string, candidates []Candidate) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return false, fmt.Errorf("loading saved graph: %w", err)
	}

	vectors := make(map[int64][]float32, len(candidates))
	dim := 0
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(c.Vector)
		}
		if len(c.Vector) != dim {
			continue
		}
		vectors[c.ItemID] = c.Vector
	}

	// A snapshot that does not match the store's candidate set is stale
	// (items indexed or removed since the save); rebuild instead.
	if saved.Graph.Len() != len(vectors) {
		return false, nil
	}

	a.mu.Lock()
	a.graph = saved.Graph
	a.vectors = vectors
	a.mu.Unlock()
	return true, nil
}

// Shortlist returns the approximate k nearest candidates to the query
// vector, or nil when the index is empty or the query width does not match
// the indexed vectors (the caller falls back to an exact scan).
func (a *ANNIndex) Shortlist(query []float32, k int) []Candidate {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.graph == nil || len(a.vectors) == 0 {
		return nil
	}
	for _, v := range a.vectors {
		if len(v) != len(query) {
			return nil
		}
		break
	}

	neighbors := a.graph.Search(query, k)
	shortlist := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		if _, ok := a.vectors[n.Key]; !ok {
			continue // removed since the last Build
		}
		shortlist = append(shortlist, Candidate{ItemID: n.Key, Vector: n.Value})
	}
	return shortlist
}

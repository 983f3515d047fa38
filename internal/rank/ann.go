package rank

import (
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// ANNIndex is the in-memory approximate-nearest-neighbor index over chunk
// embeddings, rebuilt from the store at startup and kept in sync on every
// upsert. It serves two consumers: the search pipeline's nearest-chunk
// candidate expansion (Search) and the rankers' vector-by-chunk-id lookups
// (Lookup), which back both cosine scoring and MMR similarity.
type ANNIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idMap   map[string]uint64 // chunk id -> internal key
	keyMap  map[uint64]string // internal key -> chunk id
	vectors map[string][]float32
	nextKey uint64
}

// Neighbor is one ANN search hit: a chunk id and its cosine similarity to
// the query vector.
type Neighbor struct {
	ChunkID    string
	Similarity float64
}

// NewANNIndex creates an empty index for vectors of the given dimension.
func NewANNIndex(dims int) *ANNIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &ANNIndex{
		graph:   graph,
		dims:    dims,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[string][]float32),
	}
}

// Add inserts or replaces the vector for a chunk id. Replacement orphans
// the old graph node rather than deleting it, since deleting the last
// node corrupts the coder/hnsw graph; orphans are filtered out of search
// results via the key map.
func (x *ANNIndex) Add(chunkID string, vector []float32) {
	if len(vector) != x.dims {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if oldKey, exists := x.idMap[chunkID]; exists {
		delete(x.keyMap, oldKey)
		delete(x.idMap, chunkID)
	}

	key := x.nextKey
	x.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	x.graph.Add(hnsw.MakeNode(key, vec))
	x.idMap[chunkID] = key
	x.keyMap[key] = chunkID
	x.vectors[chunkID] = vec
}

// Remove drops a chunk id from the index (lazy: the graph node is
// orphaned, not deleted).
func (x *ANNIndex) Remove(chunkID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if key, exists := x.idMap[chunkID]; exists {
		delete(x.keyMap, key)
		delete(x.idMap, chunkID)
		delete(x.vectors, chunkID)
	}
}

// Lookup returns the stored (normalized) vector for a chunk id.
func (x *ANNIndex) Lookup(chunkID string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	v, ok := x.vectors[chunkID]
	return v, ok
}

// Search returns up to k nearest chunks to the query vector by cosine
// similarity, best first.
func (x *ANNIndex) Search(query []float32, k int) []Neighbor {
	if len(query) != x.dims || k <= 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph.Len() == 0 {
		return nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Over-fetch to compensate for orphaned nodes left by lazy deletion.
	nodes := x.graph.Search(q, k+len(x.keyMap)/8+1)

	out := make([]Neighbor, 0, len(nodes))
	for _, node := range nodes {
		id, live := x.keyMap[node.Key]
		if !live {
			continue
		}
		out = append(out, Neighbor{
			ChunkID:    id,
			Similarity: 1 - float64(x.graph.Distance(q, node.Value)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Len reports the number of live vectors.
func (x *ANNIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idMap)
}

// Dims reports the vector dimension the index was built for.
func (x *ANNIndex) Dims() int { return x.dims }

// Cosine computes cosine similarity between two vectors of equal length.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

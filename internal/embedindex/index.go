// Package embedindex provides an in-process approximate-nearest-neighbor
// index over message embeddings, with a linear-scan fallback for when
// the index has not yet been built. Grounded on
// original_source/crates/offline-intelligence/src/memory_db/embedding_store.rs
// (hora-backed HNSWIndex); no Go HNSW library appears anywhere in the
// retrieved example corpus, so the graph is hand-built from the
// algorithm rather than imported.
package embedindex

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Params mirrors the source's HNSWParams (n_neighbor=16, ef_build=100,
// ef_search=50).
type Params struct {
	M         int // max neighbors per node (n_neighbor)
	EfBuild   int
	EfSearch  int
}

// DefaultParams returns the defaults the source ships.
func DefaultParams() Params {
	return Params{M: 16, EfBuild: 100, EfSearch: 50}
}

// Match is one scored search result.
type Match struct {
	MessageID int64
	Score     float32
}

// Index holds an optional built graph plus the message_id->vector side
// cache the source always keeps, and serves search by graph when built,
// falling back to a linear scan otherwise. Safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	params    Params
	dimension int

	cache  map[int64][]float32 // message_id -> embedding
	graph  *graph              // nil until Build is called
	remote *RemoteIndex        // nil unless a Qdrant backend is configured
}

// SetRemote attaches a Qdrant-backed RemoteIndex that Add mirrors
// writes into; Search still serves from the local graph, since the
// remote copy exists for durability and larger-than-memory corpora
// rather than as the primary query path.
func (idx *Index) SetRemote(remote *RemoteIndex) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.remote = remote
}

// New constructs an empty index for the given vector dimension.
func New(dimension int, params Params) *Index {
	return &Index{
		params:    params,
		dimension: dimension,
		cache:     make(map[int64][]float32),
	}
}

// Add inserts or replaces a vector in the side cache and, if a graph has
// already been built, also inserts it into the graph — mirroring the
// source's store_embedding, which adds to the live index without a full
// rebuild.
func (idx *Index) Add(messageID int64, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	idx.cache[messageID] = cp
	if idx.graph != nil {
		idx.graph.insert(messageID, cp)
	}
	if idx.remote != nil {
		remote := idx.remote
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := remote.Upsert(ctx, messageID, cp); err != nil {
				log.Warn().Err(err).Int64("message_id", messageID).Msg("embedindex: remote mirror upsert failed")
			}
		}()
	}
}

// SearchRemote queries the attached Qdrant backend directly, for
// deployments where the corpus has grown too large for the local
// graph to hold in memory. Returns an empty slice with no error when
// no remote backend is configured.
func (idx *Index) SearchRemote(ctx context.Context, query []float32, limit int, threshold float32) ([]Match, error) {
	idx.mu.RLock()
	remote := idx.remote
	idx.mu.RUnlock()
	if remote == nil {
		return nil, nil
	}
	return remote.Search(ctx, query, limit, threshold)
}

// Build constructs the ANN graph from every vector currently in the
// cache, replacing any existing graph (source's initialize_index).
func (idx *Index) Build() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	g := newGraph(idx.params)
	for id, v := range idx.cache {
		g.insert(id, v)
	}
	idx.graph = g
}

// IndexType reports "HNSW" once Build has run, "Linear" otherwise —
// the source's get_stats().index_type.
func (idx *Index) IndexType() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.graph != nil {
		return "HNSW"
	}
	return "Linear"
}

// Stats returns (total, dimension, indexType).
func (idx *Index) Stats() (int, int, string) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	dim := idx.dimension
	if dim == 0 {
		for _, v := range idx.cache {
			dim = len(v)
			break
		}
	}
	typ := "Linear"
	if idx.graph != nil {
		typ = "HNSW"
	}
	return len(idx.cache), dim, typ
}

// Search returns up to limit matches with cosine similarity >=
// threshold, sorted by descending score. Uses the graph when built,
// else a safe linear scan (source's find_similar_embeddings).
func (idx *Index) Search(query []float32, limit int, threshold float32) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph != nil {
		candidates := idx.graph.search(query, limit, idx.params.EfSearch)
		return idx.scoreAndFilter(candidates, query, limit, threshold)
	}
	ids := make([]int64, 0, len(idx.cache))
	for id := range idx.cache {
		ids = append(ids, id)
	}
	return idx.scoreAndFilter(ids, query, limit, threshold)
}

func (idx *Index) scoreAndFilter(ids []int64, query []float32, limit int, threshold float32) []Match {
	var out []Match
	for _, id := range ids {
		v, ok := idx.cache[id]
		if !ok {
			continue
		}
		sim := CosineSimilarity(query, v)
		if sim >= threshold {
			out = append(out, Match{MessageID: id, Score: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CosineSimilarity returns 0 on length mismatch or a zero vector,
// matching the source's cosine_similarity.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

package store

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/paragraf/paragraf/internal/errors"
)

// sectionRef identifies a section across the vector index boundary.
type sectionRef struct {
	DokID     string
	SectionID string
}

// vectorIndex is an in-memory HNSW graph over section embeddings, used by
// the SQLite backend where no native nearest-neighbor support exists. The
// graph is rebuilt from persisted vectors on first query and kept current
// by the embedding write path.
type vectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	refs    map[uint64]sectionRef
	keys    map[sectionRef]uint64
	nextKey uint64
}

func newVectorIndex() *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 40
	return &vectorIndex{
		graph: graph,
		refs:  make(map[uint64]sectionRef),
		keys:  make(map[sectionRef]uint64),
	}
}

// Add inserts or replaces one section vector. Replacement is lazy: the
// old graph node is orphaned rather than deleted, because coder/hnsw
// misbehaves when the last node is removed. Orphans are skipped at
// search time.
func (v *vectorIndex) Add(ref sectionRef, vec []float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key, ok := v.keys[ref]; ok {
		delete(v.refs, key)
		delete(v.keys, ref)
	}
	key := v.nextKey
	v.nextKey++
	v.graph.Add(hnsw.MakeNode(key, normalizeVector(vec)))
	v.refs[key] = ref
	v.keys[ref] = key
}

// Remove drops a section vector if present (lazy, mapping only).
func (v *vectorIndex) Remove(ref sectionRef) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key, ok := v.keys[ref]; ok {
		delete(v.refs, key)
		delete(v.keys, ref)
	}
}

// Len returns the number of indexed vectors.
func (v *vectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}

// vectorHit is one nearest-neighbor result with cosine similarity in [0,1].
type vectorHit struct {
	Ref        sectionRef
	Similarity float64
}

// Search returns the k nearest sections to the query vector.
func (v *vectorIndex) Search(query []float32, k int) []vectorHit {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.keys) == 0 || k <= 0 {
		return nil
	}
	normalized := normalizeVector(query)
	// Over-fetch to compensate for lazily deleted nodes still in the graph.
	nodes := v.graph.Search(normalized, k+k/2+4)
	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		if len(hits) == k {
			break
		}
		ref, ok := v.refs[node.Key]
		if !ok {
			continue
		}
		// CosineDistance = 1 - cosine similarity.
		sim := 1 - float64(v.graph.Distance(normalized, node.Value))
		hits = append(hits, vectorHit{Ref: ref, Similarity: sim})
	}
	return hits
}

// normalizeVector scales a vector to unit length. Zero vectors pass through.
func normalizeVector(vec []float32) []float32 {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = x / norm
	}
	return out
}

// encodeVector serializes a float32 vector as little-endian bytes for
// BLOB storage.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, errors.Internal("embedding blob length not a multiple of 4")
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

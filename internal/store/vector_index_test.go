package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorIndex_AddAndSearch(t *testing.T) {
	idx := newVectorIndex()
	idx.Add(sectionRef{DokID: "lov/1", SectionID: "1-1"}, []float32{1, 0, 0})
	idx.Add(sectionRef{DokID: "lov/1", SectionID: "2-1"}, []float32{0, 1, 0})
	idx.Add(sectionRef{DokID: "lov/2", SectionID: "1"}, []float32{0, 0, 1})

	hits := idx.Search([]float32{0.9, 0.1, 0}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, sectionRef{DokID: "lov/1", SectionID: "1-1"}, hits[0].Ref)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestVectorIndex_ReAddReplacesVector(t *testing.T) {
	idx := newVectorIndex()
	ref := sectionRef{DokID: "lov/1", SectionID: "1-1"}
	idx.Add(ref, []float32{1, 0, 0})
	idx.Add(ref, []float32{0, 1, 0})

	hits := idx.Search([]float32{0, 1, 0}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, ref, hits[0].Ref)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-3)

	// The stale vector never comes back for its old position
	hits = idx.Search([]float32{1, 0, 0}, 1)
	if len(hits) == 1 {
		assert.Equal(t, ref, hits[0].Ref)
	}
}

func TestVectorIndex_RemoveHidesEntry(t *testing.T) {
	idx := newVectorIndex()
	a := sectionRef{DokID: "lov/1", SectionID: "1-1"}
	b := sectionRef{DokID: "lov/1", SectionID: "2-1"}
	idx.Add(a, []float32{1, 0, 0})
	idx.Add(b, []float32{0, 1, 0})

	idx.Remove(a)

	hits := idx.Search([]float32{1, 0, 0}, 2)
	for _, h := range hits {
		assert.NotEqual(t, a, h.Ref, "removed entry must not surface")
	}
}

func TestVectorIndex_SearchEmpty(t *testing.T) {
	idx := newVectorIndex()
	assert.Empty(t, idx.Search([]float32{1, 0, 0}, 5))
	assert.Zero(t, idx.Len())
}

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.125, 0}

	decoded, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestDecodeVector_RejectsTruncatedBlob(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrigramSimilarity_Identical(t *testing.T) {
	assert.InDelta(t, 1.0, TrigramSimilarity("husleieloven", "husleieloven"), 1e-9)
}

func TestTrigramSimilarity_CaseInsensitive(t *testing.T) {
	assert.InDelta(t, 1.0, TrigramSimilarity("Husleieloven", "husleieloven"), 1e-9)
}

func TestTrigramSimilarity_Typo(t *testing.T) {
	// One transposed letter keeps most trigrams shared.
	sim := TrigramSimilarity("huslieloven", "husleieloven")
	assert.Greater(t, sim, 0.4)
	assert.Less(t, sim, 1.0)
}

func TestTrigramSimilarity_Unrelated(t *testing.T) {
	assert.Less(t, TrigramSimilarity("straffeloven", "plan"), 0.2)
}

func TestTrigramSimilarity_Empty(t *testing.T) {
	assert.Zero(t, TrigramSimilarity("", "husleieloven"))
	assert.Zero(t, TrigramSimilarity("", ""))
}

func TestTrigramSimilarity_NorwegianLetters(t *testing.T) {
	// æ/ø/å are single trigram units, not byte pairs.
	sim := TrigramSimilarity("vegtrafikklova", "vegtrafikkloven")
	assert.Greater(t, sim, 0.5)
	assert.Greater(t, TrigramSimilarity("sjøloven", "sjøloven"), 0.99)
}

func TestTrigramSimilarity_MultiWord(t *testing.T) {
	// Word order does not matter for the trigram set.
	a := TrigramSimilarity("lov om husleie", "husleie lov om")
	assert.InDelta(t, 1.0, a, 1e-9)
}

package store

import (
	"strings"
	"unicode"
)

// trigramSet extracts the trigram set of a string the way pg_trgm does:
// lowercase, split on non-alphanumerics, pad each word with two leading
// and one trailing space, then take every 3-byte window.
func trigramSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range splitAlnum(strings.ToLower(s)) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

func splitAlnum(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TrigramSimilarity computes pg_trgm-compatible similarity between two
// strings: |intersection| / |union| of their trigram sets. Returns 0 when
// either set is empty.
func TrigramSimilarity(a, b string) float64 {
	sa, sb := trigramSet(a), trigramSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

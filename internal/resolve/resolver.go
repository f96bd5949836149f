// Package resolve maps caller-supplied law names, abbreviations, and
// misspellings to canonical document IDs. Resolution runs a strategy
// cascade; the first strategy producing a candidate wins.
package resolve

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/internal/store"
)

// MinFuzzyLength gates trigram matching. Short generic inputs like
// "loven" would otherwise fuzzy-match half the corpus.
const MinFuzzyLength = 8

// FuzzyThreshold is the minimum trigram similarity accepted as a match.
const FuzzyThreshold = 0.4

// Method names the strategy that produced a resolution.
type Method string

const (
	MethodAlias       Method = "alias"
	MethodShortTitle  Method = "short_title"
	MethodFuzzy       Method = "fuzzy"
	MethodPassthrough Method = "passthrough"
)

// Resolution is the outcome of resolving one input.
type Resolution struct {
	DokID      string
	Method     Method
	Similarity float64 // set for fuzzy matches
	MatchedOn  string  // the short title matched, for fuzzy/short-title hits
}

// Resolver runs the cascade against the store.
type Resolver struct {
	store  store.Store
	logger *slog.Logger
}

func New(st store.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, logger: logger}
}

// Resolve maps input to a candidate document ID. Cascade:
//
//  1. curated alias map (normalized to lowercase, hyphens for spaces)
//  2. exact short-title match in the store
//  3. trigram fuzzy short-title match, inputs of MinFuzzyLength or more
//  4. passthrough for inputs spelled as a document ID
//
// Anything else is a NotFound: passing free text through as if it were
// an ID would only trade a clear miss for a confusing one downstream.
func (r *Resolver) Resolve(ctx context.Context, input string) (*Resolution, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return &Resolution{Method: MethodPassthrough}, nil
	}

	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if id, ok := curatedAliases[normalized]; ok {
		return &Resolution{DokID: store.NormalizeID(id), Method: MethodAlias}, nil
	}

	doc, err := r.store.FindByShortTitle(ctx, trimmed)
	if err == nil {
		return &Resolution{
			DokID:     doc.DokID,
			Method:    MethodShortTitle,
			MatchedOn: doc.ShortTitle,
		}, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	if len([]rune(trimmed)) >= MinFuzzyLength {
		matches, err := r.store.FuzzyShortTitle(ctx, trimmed, FuzzyThreshold, 5)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			best := pickBest(trimmed, matches)
			r.logger.Info("fuzzy resolution",
				slog.String("input", trimmed),
				slog.String("matched", best.ShortTitle),
				slog.Float64("similarity", best.Similarity))
			return &Resolution{
				DokID:      best.DokID,
				Method:     MethodFuzzy,
				Similarity: best.Similarity,
				MatchedOn:  best.ShortTitle,
			}, nil
		}
	}

	if idGrammar.MatchString(trimmed) {
		return &Resolution{
			DokID:  store.NormalizeID(trimmed),
			Method: MethodPassthrough,
		}, nil
	}

	return nil, errors.NotFound("unknown law or regulation").WithDetail("input", trimmed)
}

// pickBest re-ranks fuzzy candidates: highest similarity wins, ties go
// to the shortest edit distance from the input, then lexical order.
func pickBest(input string, matches []*store.FuzzyMatch) *store.FuzzyMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		di := editDistance(input, matches[i].ShortTitle)
		dj := editDistance(input, matches[j].ShortTitle)
		if di != dj {
			return di < dj
		}
		return matches[i].ShortTitle < matches[j].ShortTitle
	})
	return matches[0]
}

// editDistance is the Levenshtein distance over runes, case-folded.
func editDistance(a, b string) int {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// idGrammar matches canonical and publisher ID spellings:
// lov/1992-07-03-93, LOV-1992-07-03-93, forskrift/2017-06-19-840,
// FOR-2017-06-19-840, NL/lov/1967-02-10. Oldest laws omit the serial.
var idGrammar = regexp.MustCompile(`(?i)^(nl/)?(lov|for|forskrift)[-/]\d{4}-\d{2}-\d{2}(-\d+)?$`)

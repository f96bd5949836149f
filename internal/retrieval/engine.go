// Package retrieval executes searches and fetches over the synced corpus.
// All reads go through the store adapter; the engine adds query
// normalization, conjunctive-to-disjunctive fallback, hybrid ranking,
// and batch fetch with explicit absence reporting.
package retrieval

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/paragraf/paragraf/internal/config"
	"github.com/paragraf/paragraf/internal/embed"
	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/internal/store"
)

// Mode tags how a result set was produced, so callers can disclose a
// relaxed or degraded search to the end user.
type Mode string

const (
	// ModeAnd is the default conjunctive search.
	ModeAnd Mode = "and"
	// ModeOrFallback means the conjunctive pass had zero hits and the
	// terms were re-run OR-combined.
	ModeOrFallback Mode = "or_fallback"
	// ModeHybrid combines vector similarity and text rank.
	ModeHybrid Mode = "hybrid"
	// ModeTextFallback means hybrid search ran text-only because the
	// embedding backend was unavailable.
	ModeTextFallback Mode = "text_fallback"
)

// Engine is the retrieval layer.
type Engine struct {
	store    store.Store
	embedder embed.Embedder // nil disables semantic search
	cfg      config.SearchConfig
	logger   *slog.Logger
}

// New builds an engine. embedder may be nil.
func New(st store.Store, embedder embed.Embedder, cfg config.SearchConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, embedder: embedder, cfg: cfg, logger: logger}
}

// Result is a ranked result set with its production mode.
type Result struct {
	Matches []*store.SectionMatch
	Mode    Mode
}

// clampLimit applies the configured default and ceiling.
func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		return e.cfg.MaxLimit
	}
	return limit
}

// Search runs a conjunctive full-text query. On zero hits with an
// operator-free query the terms are re-run OR-combined and the result
// tagged ModeOrFallback. Queries carrying explicit operators (quotes,
// OR, exclusions) are never rewritten.
func (e *Engine) Search(ctx context.Context, query string, filters store.Filters, limit int) (*Result, error) {
	limit = e.clampLimit(limit)
	normalized := NormalizeQuery(query)
	parsed := store.ParseQuery(normalized)
	if parsed.Empty() {
		return &Result{Mode: ModeAnd}, nil
	}

	matches, err := e.store.FullTextQuery(ctx, normalized, filters, limit)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return &Result{Matches: matches, Mode: ModeAnd}, nil
	}

	orQuery := parsed.OrVariant()
	if orQuery == nil {
		return &Result{Mode: ModeAnd}, nil
	}
	e.logger.Debug("retrying with or-combined terms", slog.String("query", normalized))
	matches, err = e.store.FullTextQuery(ctx, orQuery.Raw(), filters, limit)
	if err != nil {
		return nil, err
	}
	return &Result{Matches: matches, Mode: ModeOrFallback}, nil
}

// hybridOverfetch is the candidate multiplier applied before filtering
// and fusion.
const hybridOverfetch = 3

// HybridSearch fuses vector similarity with text rank:
//
//	combined = (1-w)*similarity + w*rank
//
// with w = the configured text weight. Text ranks are scaled to [0,1]
// by the best rank in the candidate set so the two signals share a
// scale across backends; a section absent from one set contributes zero
// for that signal. Falls back to text-only when no embedder is
// configured or the embedding call fails.
func (e *Engine) HybridSearch(ctx context.Context, query string, filters store.Filters, limit int) (*Result, error) {
	limit = e.clampLimit(limit)
	normalized := NormalizeQuery(query)
	if store.ParseQuery(normalized).Empty() {
		return &Result{Mode: ModeHybrid}, nil
	}

	if e.embedder == nil {
		return e.textOnly(ctx, normalized, filters, limit)
	}
	vec, err := e.embedder.Embed(ctx, normalized, embed.TaskQuery)
	if err != nil {
		e.logger.Warn("embedding failed, degrading to text search",
			slog.String("error", err.Error()))
		return e.textOnly(ctx, normalized, filters, limit)
	}

	vecMatches, err := e.store.VectorQuery(ctx, vec, filters, limit*hybridOverfetch)
	if err != nil {
		return nil, err
	}
	textMatches, err := e.store.FullTextQuery(ctx, normalized, filters, limit*hybridOverfetch)
	if err != nil {
		return nil, err
	}

	matches := fuse(vecMatches, textMatches, e.cfg.FTSWeight)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return &Result{Matches: matches, Mode: ModeHybrid}, nil
}

func (e *Engine) textOnly(ctx context.Context, query string, filters store.Filters, limit int) (*Result, error) {
	matches, err := e.store.FullTextQuery(ctx, query, filters, limit)
	if err != nil {
		return nil, err
	}
	return &Result{Matches: matches, Mode: ModeTextFallback}, nil
}

// fuse merges the two candidate sets on (dok_id, section_id) and ranks
// by combined score, ties broken by document ID then section label.
func fuse(vecMatches, textMatches []*store.SectionMatch, textWeight float64) []*store.SectionMatch {
	type key struct{ dok, sec string }
	merged := make(map[key]*store.SectionMatch)
	for _, m := range vecMatches {
		merged[key{m.DokID, m.SectionID}] = m
	}
	var maxRank float64
	for _, m := range textMatches {
		if m.Rank > maxRank {
			maxRank = m.Rank
		}
	}
	for _, m := range textMatches {
		k := key{m.DokID, m.SectionID}
		if existing, ok := merged[k]; ok {
			existing.Rank = m.Rank
			if existing.Snippet == "" {
				existing.Snippet = m.Snippet
			}
		} else {
			merged[k] = m
		}
	}

	score := func(m *store.SectionMatch) float64 {
		rank := 0.0
		if maxRank > 0 {
			rank = m.Rank / maxRank
		}
		return (1-textWeight)*m.Similarity + textWeight*rank
	}
	out := make([]*store.SectionMatch, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := score(out[i]), score(out[j])
		if si != sj {
			return si > sj
		}
		if out[i].DokID != out[j].DokID {
			return out[i].DokID < out[j].DokID
		}
		return out[i].SectionID < out[j].SectionID
	})
	return out
}

// nrSuffix strips trailing "nr N ..." from a section label, e.g.
// "4-2 nr 1" refers to a numbered item inside section 4-2.
var nrSuffix = regexp.MustCompile(`(?i)\s+nr\.?\s+\d+.*$`)

// SectionLookup is the outcome of GetSection. Note is set when the
// result comes from the nr-suffix fallback and names the containing
// section actually returned.
type SectionLookup struct {
	Section *store.Section
	// RequestedID is the label as asked for, before any fallback.
	RequestedID string
	// ContainerID is set when the exact label missed and the enclosing
	// section (label with the "nr N" suffix stripped) was returned.
	ContainerID string
}

// GetSection fetches one section. A miss on a label like "4-2 nr 1"
// retries the enclosing section "4-2"; the lookup records both labels
// so the caller can explain the substitution.
func (e *Engine) GetSection(ctx context.Context, dokID, sectionID string) (*SectionLookup, error) {
	sec, err := e.store.GetSection(ctx, dokID, sectionID)
	if err == nil {
		return &SectionLookup{Section: sec, RequestedID: sectionID}, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	stripped := strings.TrimSpace(nrSuffix.ReplaceAllString(sectionID, ""))
	if stripped == sectionID || stripped == "" {
		return nil, err
	}
	sec, retryErr := e.store.GetSection(ctx, dokID, stripped)
	if retryErr != nil {
		return nil, err // report the original miss
	}
	return &SectionLookup{
		Section:     sec,
		RequestedID: sectionID,
		ContainerID: stripped,
	}, nil
}

// MaxBatchSize caps one batch fetch to keep responses bounded.
const MaxBatchSize = 50

// Batch is a batch-fetch result: found sections in request order plus
// the labels that did not resolve. A partial batch is not an error.
type Batch struct {
	Sections []*store.Section
	Missing  []string
}

// GetSections fetches several sections of one document. Labels over
// MaxBatchSize produce a Validation error; missing labels are data,
// not errors.
func (e *Engine) GetSections(ctx context.Context, dokID string, sectionIDs []string) (*Batch, error) {
	if len(sectionIDs) == 0 {
		return &Batch{}, nil
	}
	if len(sectionIDs) > MaxBatchSize {
		return nil, errors.Validation("too many sections in one batch").
			WithDetail("requested", strings.Join(sectionIDs[:3], ", ")+", …").
			WithDetail("max", "50")
	}
	secs, err := e.store.GetSections(ctx, dokID, sectionIDs)
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{}, len(secs))
	for _, sec := range secs {
		found[sec.SectionID] = struct{}{}
	}
	var missing []string
	for _, id := range sectionIDs {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return &Batch{Sections: secs, Missing: missing}, nil
}

// SectionSize estimates a section's size without returning its text.
type SectionSize struct {
	SectionID       string
	CharCount       int
	EstimatedTokens int
}

// Size returns the size estimate for one section.
func (e *Engine) Size(ctx context.Context, dokID, sectionID string) (*SectionSize, error) {
	sec, err := e.store.GetSection(ctx, dokID, sectionID)
	if err != nil {
		return nil, err
	}
	return &SectionSize{
		SectionID:       sec.SectionID,
		CharCount:       sec.CharCount,
		EstimatedTokens: sec.EstimatedTokens(),
	}, nil
}

// RelatedRegulations lists current regulations enabled by the given law.
func (e *Engine) RelatedRegulations(ctx context.Context, lawID string) ([]*store.Document, error) {
	return e.store.RelatedRegulations(ctx, lawID)
}

// typographic characters agents and editors substitute into queries.
var typographicReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`, // curly double quotes
	"‘", "'", "’", "'", // curly single quotes
	"–", "-", "—", "-", // en/em dash
	" ", " ", // non-breaking space
)

// NormalizeQuery folds typographic punctuation to the ASCII forms the
// query grammar understands and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(typographicReplacer.Replace(q)), " ")
}

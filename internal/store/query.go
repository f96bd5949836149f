package store

import "strings"

// Query is a parsed search query in the user-facing grammar: space-separated
// terms (implicit AND), uppercase OR, "quoted phrases", -excluded terms.
// The grammar matches what Postgres websearch_to_tsquery accepts, so the
// Postgres backend can pass raw text through while SQLite translates.
type Query struct {
	Terms    []string // plain required terms
	Phrases  []string // quoted phrases, quotes stripped
	Excluded []string // terms prefixed with -
	HasOR    bool     // at least one OR connective
	raw      string
}

// Raw returns the original query text.
func (q *Query) Raw() string { return q.raw }

// HasOperators reports whether the query uses explicit operators (OR,
// phrase, exclusion). Queries with operators are never rewritten by the
// OR-fallback pass.
func (q *Query) HasOperators() bool {
	return q.HasOR || len(q.Phrases) > 0 || len(q.Excluded) > 0
}

// Empty reports whether the query has no positive content to match.
func (q *Query) Empty() bool {
	return len(q.Terms) == 0 && len(q.Phrases) == 0
}

// ParseQuery tokenizes query text in the user grammar. Unbalanced quotes
// close at end of input.
func ParseQuery(raw string) *Query {
	q := &Query{raw: raw}
	rest := strings.TrimSpace(raw)
	for rest != "" {
		if rest[0] == '"' {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				q.Phrases = append(q.Phrases, strings.TrimSpace(rest[1:]))
				break
			}
			if p := strings.TrimSpace(rest[1 : 1+end]); p != "" {
				q.Phrases = append(q.Phrases, p)
			}
			rest = strings.TrimSpace(rest[end+2:])
			continue
		}
		tok := rest
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			tok, rest = rest[:i], strings.TrimSpace(rest[i+1:])
		} else {
			rest = ""
		}
		switch {
		case tok == "OR":
			q.HasOR = true
		case strings.HasPrefix(tok, "-") && len(tok) > 1:
			q.Excluded = append(q.Excluded, tok[1:])
		case tok != "":
			q.Terms = append(q.Terms, tok)
		}
	}
	return q
}

// ToFTS5 renders the query in SQLite FTS5 MATCH syntax. OR queries keep
// their original connective structure by re-walking the raw text; AND
// queries join terms and phrases, exclusions become NOT clauses.
func (q *Query) ToFTS5() string {
	if q.HasOR {
		// Preserve term/OR sequence from the raw text. Quoted phrases stay
		// one unit; bare terms are quoted so hyphens and reserved words
		// stay literal.
		var parts []string
		rest := strings.TrimSpace(q.raw)
		for rest != "" {
			if rest[0] == '"' {
				var phrase string
				if end := strings.IndexByte(rest[1:], '"'); end < 0 {
					phrase, rest = strings.TrimSpace(rest[1:]), ""
				} else {
					phrase, rest = strings.TrimSpace(rest[1:1+end]), strings.TrimSpace(rest[end+2:])
				}
				if phrase != "" {
					parts = append(parts, fts5Quote(phrase))
				}
				continue
			}
			tok := rest
			if i := strings.IndexByte(rest, ' '); i >= 0 {
				tok, rest = rest[:i], strings.TrimSpace(rest[i+1:])
			} else {
				rest = ""
			}
			if tok == "OR" {
				parts = append(parts, "OR")
				continue
			}
			if tok != "" {
				parts = append(parts, fts5Quote(tok))
			}
		}
		return strings.Join(parts, " ")
	}
	var parts []string
	for _, t := range q.Terms {
		parts = append(parts, fts5Quote(t))
	}
	for _, p := range q.Phrases {
		parts = append(parts, fts5Quote(p))
	}
	for _, x := range q.Excluded {
		parts = append(parts, "NOT "+fts5Quote(x))
	}
	return strings.Join(parts, " ")
}

// OrVariant returns the query rewritten with OR between every term, used
// by the fallback search pass. Returns nil when rewriting is pointless
// (operators present or fewer than two terms).
func (q *Query) OrVariant() *Query {
	if q.HasOperators() || len(q.Terms) < 2 {
		return nil
	}
	raw := strings.Join(q.Terms, " OR ")
	return ParseQuery(raw)
}

func fts5Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/internal/resolve"
	"github.com/paragraf/paragraf/internal/retrieval"
	"github.com/paragraf/paragraf/internal/store"
)

// LawInput identifies a law and optionally one provision.
type LawInput struct {
	Lov       string `json:"lov" jsonschema:"lovnavn, kallenavn eller Lovdata-ID, f.eks. 'husleieloven' eller 'LOV-1999-03-26-17'"`
	Paragraf  string `json:"paragraf,omitempty" jsonschema:"paragrafnummer, f.eks. '3-9'; tom verdi gir innholdsfortegnelsen"`
	MaxTokens int    `json:"max_tokens,omitempty" jsonschema:"maks estimerte tokens i responsen; 0 betyr ubegrenset"`
}

// LookupOutput carries the canonical IDs alongside the rendered markdown.
type LookupOutput struct {
	DokID     string `json:"dok_id,omitempty" jsonschema:"kanonisk Lovdata-ID for dokumentet"`
	SectionID string `json:"paragraf,omitempty" jsonschema:"paragrafen som ble returnert"`
	Markdown  string `json:"markdown" jsonschema:"formatert respons"`
}

func (s *Server) handleLaw(ctx context.Context, req *mcp.CallToolRequest, in LawInput) (*mcp.CallToolResult, LookupOutput, error) {
	return s.lookup(ctx, in.Lov, in.Paragraf, in.MaxTokens, store.CategoryLaw)
}

// RegulationInput identifies a regulation and optionally one provision.
type RegulationInput struct {
	Forskrift string `json:"forskrift" jsonschema:"forskriftsnavn eller Lovdata-ID, f.eks. 'tek17' eller 'FOR-2017-06-19-840'"`
	Paragraf  string `json:"paragraf,omitempty" jsonschema:"paragrafnummer; tom verdi gir innholdsfortegnelsen"`
	MaxTokens int    `json:"max_tokens,omitempty" jsonschema:"maks estimerte tokens i responsen; 0 betyr ubegrenset"`
}

func (s *Server) handleRegulation(ctx context.Context, req *mcp.CallToolRequest, in RegulationInput) (*mcp.CallToolResult, LookupOutput, error) {
	return s.lookup(ctx, in.Forskrift, in.Paragraf, in.MaxTokens, store.CategoryRegulation)
}

// lookup is the shared body of the lov and forskrift tools.
func (s *Server) lookup(ctx context.Context, input, sectionID string, maxTokens int, want store.Category) (*mcp.CallToolResult, LookupOutput, error) {
	if strings.TrimSpace(input) == "" {
		return nil, LookupOutput{}, NewInvalidParamsError("dokumentnavn mangler")
	}
	doc, miss, err := s.resolveDocument(ctx, input, want)
	if err != nil {
		return nil, LookupOutput{}, MapError(err)
	}
	if miss != "" {
		return textResult(miss), LookupOutput{Markdown: miss}, nil
	}

	if strings.TrimSpace(sectionID) == "" {
		sections, err := s.store.ListSections(ctx, doc.DokID)
		if err != nil {
			return nil, LookupOutput{}, MapError(err)
		}
		nodes, err := s.store.ListStructure(ctx, doc.DokID)
		if err != nil {
			return nil, LookupOutput{}, MapError(err)
		}
		md := formatTOC(doc, sections, nodes)
		return textResult(md), LookupOutput{DokID: doc.DokID, Markdown: md}, nil
	}

	label := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(sectionID), "§ "))
	found, err := s.engine.GetSection(ctx, doc.DokID, label)
	if err != nil {
		if errors.IsNotFound(err) {
			md := sectionMissMessage(doc, label, want)
			return textResult(md), LookupOutput{DokID: doc.DokID, Markdown: md}, nil
		}
		return nil, LookupOutput{}, MapError(err)
	}
	md := formatSection(doc, found, maxTokens)
	return textResult(md), LookupOutput{
		DokID:     doc.DokID,
		SectionID: found.Section.SectionID,
		Markdown:  md,
	}, nil
}

// resolveDocument runs the alias cascade and loads the document. A miss
// returns a ready-to-send Norwegian message; only infrastructure
// failures surface as errors.
func (s *Server) resolveDocument(ctx context.Context, input string, want store.Category) (*store.Document, string, error) {
	res, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, documentMissMessage(input, want), nil
		}
		return nil, "", err
	}
	doc, err := s.store.GetDocument(ctx, res.DokID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, documentMissMessage(input, want), nil
		}
		return nil, "", err
	}
	if doc.Category != want {
		return nil, categoryMismatchMessage(input, doc), nil
	}
	return doc, "", nil
}

func documentMissMessage(input string, want store.Category) string {
	kind := "loven"
	if want == store.CategoryRegulation {
		kind = "forskriften"
	}
	return fmt.Sprintf(`**Feil:** Fant ikke %s «%s».

**Tips:**
- Bruk `+"`sok('%s')`"+` for å søke i lovtekstene
- Bruk `+"`liste()`"+` for å se kjente aliaser
- Lovdata-ID fungerer alltid, f.eks. `+"`LOV-1992-07-03-93`"+`
`, kind, input, input)
}

func categoryMismatchMessage(input string, doc *store.Document) string {
	if doc.Category == store.CategoryRegulation {
		return fmt.Sprintf("**Merk:** «%s» er en forskrift, ikke en lov. "+
			"Bruk `forskrift('%s')`.", input, doc.DokID)
	}
	return fmt.Sprintf("**Merk:** «%s» er en lov, ikke en forskrift. "+
		"Bruk `lov('%s')`.", input, doc.DokID)
}

func sectionMissMessage(doc *store.Document, label string, want store.Category) string {
	tool := "lov"
	if want == store.CategoryRegulation {
		tool = "forskrift"
	}
	return fmt.Sprintf(`**Feil:** Fant ikke § %s i %s.

**Tips:** Bruk `+"`%s('%s')`"+` uten paragraf for innholdsfortegnelsen.
`, label, displayName(doc), tool, doc.DokID)
}

// BatchInput fetches several provisions of one document.
type BatchInput struct {
	Lov        string   `json:"lov" jsonschema:"lovnavn, forskriftsnavn eller Lovdata-ID"`
	Paragrafer []string `json:"paragrafer" jsonschema:"paragrafnumre, f.eks. ['1-1','3-9']; maks 50"`
	MaxTokens  int      `json:"max_tokens,omitempty" jsonschema:"maks estimerte tokens per paragraf; 0 betyr ubegrenset"`
}

// BatchOutput reports what was found and what was not.
type BatchOutput struct {
	DokID    string   `json:"dok_id,omitempty"`
	Found    int      `json:"found"`
	Missing  []string `json:"missing,omitempty"`
	Markdown string   `json:"markdown"`
}

func (s *Server) handleBatch(ctx context.Context, req *mcp.CallToolRequest, in BatchInput) (*mcp.CallToolResult, BatchOutput, error) {
	if strings.TrimSpace(in.Lov) == "" {
		return nil, BatchOutput{}, NewInvalidParamsError("dokumentnavn mangler")
	}
	if len(in.Paragrafer) == 0 {
		return nil, BatchOutput{}, NewInvalidParamsError("paragrafer mangler")
	}
	doc, miss, err := s.anyDocument(ctx, in.Lov)
	if err != nil {
		return nil, BatchOutput{}, MapError(err)
	}
	if miss != "" {
		return textResult(miss), BatchOutput{Markdown: miss}, nil
	}
	labels := make([]string, 0, len(in.Paragrafer))
	for _, p := range in.Paragrafer {
		labels = append(labels, strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(p), "§ ")))
	}
	batch, err := s.engine.GetSections(ctx, doc.DokID, labels)
	if err != nil {
		return nil, BatchOutput{}, MapError(err)
	}
	md := formatBatch(doc, batch, in.MaxTokens)
	return textResult(md), BatchOutput{
		DokID:    doc.DokID,
		Found:    len(batch.Sections),
		Missing:  batch.Missing,
		Markdown: md,
	}, nil
}

// anyDocument resolves without a category requirement; the batch tool
// serves laws and regulations alike.
func (s *Server) anyDocument(ctx context.Context, input string) (*store.Document, string, error) {
	res, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, documentMissMessage(input, store.CategoryLaw), nil
		}
		return nil, "", err
	}
	doc, err := s.store.GetDocument(ctx, res.DokID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, documentMissMessage(input, store.CategoryLaw), nil
		}
		return nil, "", err
	}
	return doc, "", nil
}

// SearchInput carries the query and optional corpus filters.
type SearchInput struct {
	Sok               string `json:"sok" jsonschema:"søkeord; støtter \"fraser\", OR og -ekskludering"`
	Kategori          string `json:"kategori,omitempty" jsonschema:"begrens til 'lov' eller 'forskrift'"`
	Departement       string `json:"departement,omitempty" jsonschema:"begrens til ett departement; se departementer()"`
	Rettsomrade       string `json:"rettsomrade,omitempty" jsonschema:"begrens til ett rettsområde; se rettsomrader()"`
	InkluderEndringer bool   `json:"inkluder_endringer,omitempty" jsonschema:"ta med endringslover og -forskrifter"`
	Antall            int    `json:"antall,omitempty" jsonschema:"maks antall treff, standard 20, maks 50"`
}

// SearchOutput reports the match count and the search mode actually used.
type SearchOutput struct {
	Count    int    `json:"count"`
	Mode     string `json:"mode" jsonschema:"and, or_fallback, hybrid eller text_fallback"`
	Markdown string `json:"markdown"`
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	return s.search(ctx, in, s.engine.Search)
}

func (s *Server) handleSemanticSearch(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	return s.search(ctx, in, s.engine.HybridSearch)
}

func (s *Server) search(ctx context.Context, in SearchInput,
	run func(context.Context, string, store.Filters, int) (*retrieval.Result, error)) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(in.Sok) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("søkeord mangler")
	}
	filters, err := searchFilters(in)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	result, err := run(ctx, in.Sok, filters, in.Antall)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	md := formatSearchResults(in.Sok, result)
	return textResult(md), SearchOutput{
		Count:    len(result.Matches),
		Mode:     string(result.Mode),
		Markdown: md,
	}, nil
}

func searchFilters(in SearchInput) (store.Filters, error) {
	filters := store.Filters{
		Ministry:          strings.TrimSpace(in.Departement),
		LegalArea:         strings.TrimSpace(in.Rettsomrade),
		IncludeAmendments: in.InkluderEndringer,
	}
	switch strings.ToLower(strings.TrimSpace(in.Kategori)) {
	case "":
	case "lov", "lover":
		filters.Category = store.CategoryLaw
	case "forskrift", "forskrifter":
		filters.Category = store.CategoryRegulation
	default:
		return store.Filters{}, NewInvalidParamsError(
			"ugyldig kategori: bruk 'lov' eller 'forskrift'")
	}
	return filters, nil
}

// SizeInput identifies one provision to size up.
type SizeInput struct {
	Lov      string `json:"lov" jsonschema:"lovnavn, forskriftsnavn eller Lovdata-ID"`
	Paragraf string `json:"paragraf" jsonschema:"paragrafnummer"`
}

// SizeOutput is the size estimate for one provision.
type SizeOutput struct {
	DokID           string `json:"dok_id,omitempty"`
	SectionID       string `json:"paragraf,omitempty"`
	CharCount       int    `json:"char_count,omitempty"`
	EstimatedTokens int    `json:"estimated_tokens,omitempty"`
	Markdown        string `json:"markdown"`
}

func (s *Server) handleSize(ctx context.Context, req *mcp.CallToolRequest, in SizeInput) (*mcp.CallToolResult, SizeOutput, error) {
	if strings.TrimSpace(in.Lov) == "" || strings.TrimSpace(in.Paragraf) == "" {
		return nil, SizeOutput{}, NewInvalidParamsError("lov og paragraf kreves")
	}
	doc, miss, err := s.anyDocument(ctx, in.Lov)
	if err != nil {
		return nil, SizeOutput{}, MapError(err)
	}
	if miss != "" {
		return textResult(miss), SizeOutput{Markdown: miss}, nil
	}
	label := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(in.Paragraf), "§ "))
	size, err := s.engine.Size(ctx, doc.DokID, label)
	if err != nil {
		if errors.IsNotFound(err) {
			md := sectionMissMessage(doc, label, doc.Category)
			return textResult(md), SizeOutput{DokID: doc.DokID, Markdown: md}, nil
		}
		return nil, SizeOutput{}, MapError(err)
	}
	md := fmt.Sprintf("**%s § %s:** %s tegn, ~%s tokens.",
		displayName(doc), size.SectionID,
		groupThousands(size.CharCount), groupThousands(size.EstimatedTokens))
	return textResult(md), SizeOutput{
		DokID:           doc.DokID,
		SectionID:       size.SectionID,
		CharCount:       size.CharCount,
		EstimatedTokens: size.EstimatedTokens,
		Markdown:        md,
	}, nil
}

// RelatedInput names the enabling law.
type RelatedInput struct {
	Lov string `json:"lov" jsonschema:"lovnavn, kallenavn eller Lovdata-ID"`
}

// RelatedOutput lists regulations enabled by the law.
type RelatedOutput struct {
	LawID    string `json:"law_id,omitempty"`
	Count    int    `json:"count"`
	Markdown string `json:"markdown"`
}

func (s *Server) handleRelated(ctx context.Context, req *mcp.CallToolRequest, in RelatedInput) (*mcp.CallToolResult, RelatedOutput, error) {
	if strings.TrimSpace(in.Lov) == "" {
		return nil, RelatedOutput{}, NewInvalidParamsError("lovnavn mangler")
	}
	doc, miss, err := s.resolveDocument(ctx, in.Lov, store.CategoryLaw)
	if err != nil {
		return nil, RelatedOutput{}, MapError(err)
	}
	if miss != "" {
		return textResult(miss), RelatedOutput{Markdown: miss}, nil
	}
	regs, err := s.engine.RelatedRegulations(ctx, doc.DokID)
	if err != nil {
		return nil, RelatedOutput{}, MapError(err)
	}
	md := formatRelated(displayName(doc), doc.DokID, regs)
	return textResult(md), RelatedOutput{
		LawID:    doc.DokID,
		Count:    len(regs),
		Markdown: md,
	}, nil
}

// ListOutput carries the alias count and the rendered listing.
type ListOutput struct {
	Count    int    `json:"count"`
	Markdown string `json:"markdown"`
}

func (s *Server) handleList(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, ListOutput, error) {
	var groups []aliasCategory
	count := 0
	for _, g := range resolve.AliasGroups() {
		cat := aliasCategory{Category: g.Category}
		for _, alias := range g.Aliases {
			id, ok := resolve.AliasTarget(alias)
			if !ok {
				continue
			}
			// Prefer the synced title; the canonical ID is still useful
			// before the first sync.
			name := id
			if doc, err := s.store.GetDocument(ctx, id); err == nil {
				name = displayName(doc)
			}
			cat.Entries = append(cat.Entries, aliasEntry{Alias: alias, Name: name})
			count++
		}
		groups = append(groups, cat)
	}
	md := formatAliases(groups)
	return textResult(md), ListOutput{Count: count, Markdown: md}, nil
}

// ValuesOutput is a flat value list for filter discovery.
type ValuesOutput struct {
	Values   []string `json:"values"`
	Markdown string   `json:"markdown"`
}

// EmptyInput is the input of tools that take no parameters.
type EmptyInput struct{}

func (s *Server) handleMinistries(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, ValuesOutput, error) {
	values, err := s.store.ListMinistries(ctx)
	if err != nil {
		return nil, ValuesOutput{}, MapError(err)
	}
	md := formatValueList("Departementer", values,
		"*Bruk `sok(..., departement='...')` for å filtrere søk.*")
	return textResult(md), ValuesOutput{Values: values, Markdown: md}, nil
}

func (s *Server) handleLegalAreas(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, ValuesOutput, error) {
	values, err := s.store.ListLegalAreas(ctx)
	if err != nil {
		return nil, ValuesOutput{}, MapError(err)
	}
	md := formatValueList("Rettsområder", values,
		"*Bruk `sok(..., rettsomrade='...')` for å filtrere søk.*")
	return textResult(md), ValuesOutput{Values: values, Markdown: md}, nil
}

// DatasetStatus is one dataset's row in the sync status report.
type DatasetStatus struct {
	Dataset      string `json:"dataset"`
	Status       string `json:"status"`
	LastModified string `json:"last_modified,omitempty"`
	SyncedAt     string `json:"synced_at,omitempty"`
	FileCount    int    `json:"file_count"`
	Error        string `json:"error,omitempty"`
}

// SyncStatusOutput reports per-dataset sync state.
type SyncStatusOutput struct {
	Synced   bool            `json:"synced"`
	Datasets []DatasetStatus `json:"datasets"`
	Markdown string          `json:"markdown"`
}

func (s *Server) handleSyncStatus(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	synced, err := s.store.IsSynced(ctx)
	if err != nil {
		return nil, SyncStatusOutput{}, MapError(err)
	}
	out := SyncStatusOutput{Synced: synced}
	lines := []string{"## Synkroniseringsstatus\n",
		"| Datasett | Status | Sist endret | Synkronisert | Dokumenter |",
		"|----------|--------|-------------|--------------|-----------:|"}
	for _, ds := range store.Datasets {
		state, err := s.store.GetSyncState(ctx, ds)
		if err != nil {
			return nil, SyncStatusOutput{}, MapError(err)
		}
		row := DatasetStatus{
			Dataset:   string(ds),
			Status:    string(state.Status),
			FileCount: state.FileCount,
			Error:     state.ErrorMessage,
		}
		modified, syncedAt := "-", "-"
		if state.Status == store.SyncIdle && state.SyncedAt.IsZero() {
			row.Status = "aldri synkronisert"
		}
		if !state.LastModified.IsZero() {
			modified = state.LastModified.Format("2006-01-02 15:04")
			row.LastModified = modified
		}
		if !state.SyncedAt.IsZero() {
			syncedAt = state.SyncedAt.Format("2006-01-02 15:04")
			row.SyncedAt = syncedAt
		}
		out.Datasets = append(out.Datasets, row)
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s | %d |",
			row.Dataset, row.Status, modified, syncedAt, row.FileCount))
	}
	if !synced {
		lines = append(lines, "",
			"> Databasen er ikke fullsynkronisert. Kjør `paragraf sync`.")
	}
	for _, row := range out.Datasets {
		if row.Error != "" {
			lines = append(lines, "", fmt.Sprintf("> **Feil (%s):** %s", row.Dataset, row.Error))
		}
	}
	out.Markdown = strings.Join(lines, "\n")
	return textResult(out.Markdown), out, nil
}

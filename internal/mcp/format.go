package mcp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/paragraf/paragraf/internal/retrieval"
	"github.com/paragraf/paragraf/internal/store"
)

// Responses are Norwegian markdown: the callers are agents answering
// Norwegian legal questions, and the source data carries an attribution
// requirement (NLOD) that every response footer satisfies.

const licenseLine = "**Lisens:** NLOD 2.0 - Norsk lisens for offentlige data"

// lovdataURL builds the public URL for a document or section.
func lovdataURL(dokID, sectionID string) string {
	url := "https://lovdata.no/" + strings.ToLower(store.NormalizeID(dokID))
	if sectionID != "" {
		url += "/§" + strings.TrimSpace(strings.TrimLeft(sectionID, "§ "))
	}
	return url
}

// displayName prefers the short title, then the full title, then the ID.
func displayName(doc *store.Document) string {
	if doc == nil {
		return ""
	}
	if doc.ShortTitle != "" {
		return doc.ShortTitle
	}
	if doc.Title != "" {
		return doc.Title
	}
	return doc.DokID
}

const repealedWarning = "> **Denne loven/forskriften er opphevet.** " +
	"Resultatene kan være utdaterte. Bruk `sok()` for å finne gjeldende regelverk.\n"

// formatSection renders one fetched section with metadata and source link.
func formatSection(doc *store.Document, lookup *retrieval.SectionLookup, maxTokens int) string {
	sec := lookup.Section
	var content strings.Builder
	if sec.Title != "" {
		fmt.Fprintf(&content, "**%s**\n\n", sec.Title)
	}
	content.WriteString(sec.Content)
	if lookup.ContainerID != "" {
		fmt.Fprintf(&content,
			"\n\n> *Merk: § %s ble ikke funnet som egen seksjon. "+
				"Viser hele § %s som inneholder denne bestemmelsen.*",
			lookup.RequestedID, lookup.ContainerID)
	}
	text := truncate(content.String(), maxTokens)

	header := displayName(doc)
	warning := ""
	if !doc.IsCurrent {
		header += " (opphevet)"
		warning = "\n" + repealedWarning
	}
	url := lovdataURL(doc.DokID, lookup.RequestedID)
	return fmt.Sprintf(`## %s

**Paragraf:** § %s
**Lovdata ID:** %s
%s
---

%s

---

**Kilde:** [%s](%s)
%s
`, header, lookup.RequestedID, doc.DokID, warning, text, url, url, licenseLine)
}

// truncate cuts text to roughly maxTokens. Zero means no limit.
func truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	maxChars := int(float64(maxTokens) * store.CharsPerToken)
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "\n\n... [avkortet]"
}

// formatTOC renders a document overview: metadata block plus a table of
// contents, hierarchical when structure nodes exist.
func formatTOC(doc *store.Document, sections []*store.SectionInfo, nodes []*store.StructureNode) string {
	title := doc.Title
	if title == "" {
		title = displayName(doc)
	}
	if !doc.IsCurrent {
		title += " (opphevet)"
	}
	totalTokens := 0
	for _, sec := range sections {
		totalTokens += sec.EstimatedTokens
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("### Innholdsfortegnelse: %s", title), "")
	if !doc.IsCurrent {
		lines = append(lines, repealedWarning)
	}
	lines = append(lines, fmt.Sprintf("**Totalt:** %d paragrafer (~%s tokens)",
		len(sections), groupThousands(totalTokens)))

	var meta []string
	if doc.Ministry != "" {
		meta = append(meta, "**Departement:** "+doc.Ministry)
	}
	if doc.LegalArea != "" {
		meta = append(meta, "**Rettsområde:** "+doc.LegalArea)
	}
	if doc.BasedOn != "" {
		meta = append(meta, "**Hjemmelslov:** "+formatBasedOn(doc.BasedOn))
	}
	if doc.IsAmendment {
		meta = append(meta, "*Dette er en endringslov/-forskrift.*")
	}
	if len(meta) > 0 {
		lines = append(lines, "")
		lines = append(lines, meta...)
	}
	lines = append(lines, "")

	if len(nodes) > 0 {
		lines = append(lines, hierarchicalTOC(sections, nodes)...)
	} else {
		lines = append(lines, flatTOC(sections)...)
	}

	lines = append(lines, "", "---", "",
		"**Bruk:**",
		fmt.Sprintf("- Hent én paragraf: `lov('%s', '1')` eller `forskrift(...)`", doc.DokID),
		"- Begrens respons: `lov(..., max_tokens=2000)`",
		"",
		"*Tips: Hent spesifikke paragrafer for å spare tokens.*")
	return strings.Join(lines, "\n")
}

// flatTOC lists sections as a table, capped to keep responses bounded.
func flatTOC(sections []*store.SectionInfo) []string {
	lines := []string{
		"| Paragraf | Tittel | Tokens |",
		"|----------|--------|-------:|",
	}
	const maxDisplay = 100
	shown := sections
	if len(shown) > maxDisplay {
		shown = shown[:maxDisplay]
	}
	for _, sec := range shown {
		title := sec.Title
		if len([]rune(title)) > 50 {
			title = string([]rune(title)[:47]) + "..."
		}
		title = strings.ReplaceAll(title, "|", `\|`)
		lines = append(lines, fmt.Sprintf("| § %s | %s | %s |",
			sec.SectionID, title, groupThousands(sec.EstimatedTokens)))
	}
	if len(sections) > maxDisplay {
		rest := sections[maxDisplay:]
		restTokens := 0
		for _, sec := range rest {
			restTokens += sec.EstimatedTokens
		}
		lines = append(lines, fmt.Sprintf("| ... | *%d flere paragrafer* | %s |",
			len(rest), groupThousands(restTokens)))
	}
	return lines
}

// hierarchicalTOC groups sections under their structure nodes via the
// structure key reference; sections with no key list at the end.
func hierarchicalTOC(sections []*store.SectionInfo, nodes []*store.StructureNode) []string {
	byKey := make(map[string][]*store.SectionInfo)
	var orphans []*store.SectionInfo
	for _, sec := range sections {
		if sec.StructureKey == "" {
			orphans = append(orphans, sec)
			continue
		}
		byKey[sec.StructureKey] = append(byKey[sec.StructureKey], sec)
	}

	const maxPerNode = 8
	var lines []string
	for _, node := range nodes {
		var indent string
		switch node.Kind {
		case store.NodePart:
			indent = ""
			lines = append(lines, "")
		case store.NodeChapter:
			indent = "  "
		default:
			indent = "    "
		}
		heading := node.Title
		if heading == "" {
			heading = string(node.Kind) + " " + node.Label
		}
		lines = append(lines, fmt.Sprintf("%s**%s**", indent, heading))

		secs := byKey[node.Key()]
		shown := secs
		if len(shown) > maxPerNode {
			shown = shown[:maxPerNode]
		}
		for _, sec := range shown {
			title := sec.Title
			if len([]rune(title)) > 35 {
				title = string([]rune(title)[:32]) + "..."
			}
			lines = append(lines, fmt.Sprintf("%s  - § %s: %s (%d tok)",
				indent, sec.SectionID, title, sec.EstimatedTokens))
		}
		if len(secs) > maxPerNode {
			rest := secs[maxPerNode:]
			restTokens := 0
			for _, sec := range rest {
				restTokens += sec.EstimatedTokens
			}
			lines = append(lines, fmt.Sprintf("%s  - *... og %d flere (%d tok)*",
				indent, len(rest), restTokens))
		}
	}

	if len(orphans) > 0 {
		lines = append(lines, "", "**Andre paragrafer:**")
		shown := orphans
		if len(shown) > 20 {
			shown = shown[:20]
		}
		for _, sec := range shown {
			lines = append(lines, fmt.Sprintf("  - § %s (%d tok)", sec.SectionID, sec.EstimatedTokens))
		}
		if len(orphans) > 20 {
			lines = append(lines, fmt.Sprintf("  - *... og %d flere*", len(orphans)-20))
		}
	}
	return lines
}

var basedOnRef = regexp.MustCompile(`^((?:lov|forskrift)/\d{4}-\d{2}-\d{2}(?:-\d+)?)(?:/§(.+))?$`)

// formatBasedOn renders enabling references readably, grouping repeated
// documents: "lov/2005-06-17-62 §§ 1-4, 14-12; forskrift/2007-05-31-590".
func formatBasedOn(raw string) string {
	var order []string
	grouped := make(map[string][]string)
	for _, part := range strings.Split(raw, ";") {
		ref := strings.TrimSpace(part)
		if ref == "" {
			continue
		}
		m := basedOnRef.FindStringSubmatch(ref)
		if m == nil {
			if _, seen := grouped[ref]; !seen {
				order = append(order, ref)
				grouped[ref] = nil
			}
			continue
		}
		docID := m[1]
		if _, seen := grouped[docID]; !seen {
			order = append(order, docID)
			grouped[docID] = nil
		}
		if m[2] != "" {
			grouped[docID] = append(grouped[docID], m[2])
		}
	}
	if len(order) == 0 {
		return raw
	}
	var parts []string
	for _, docID := range order {
		switch refs := grouped[docID]; len(refs) {
		case 0:
			parts = append(parts, docID)
		case 1:
			parts = append(parts, fmt.Sprintf("%s § %s", docID, refs[0]))
		default:
			parts = append(parts, fmt.Sprintf("%s §§ %s", docID, strings.Join(refs, ", ")))
		}
	}
	return strings.Join(parts, "; ")
}

// formatSearchResults renders a ranked result set. The fallback note is
// included when the conjunctive pass was relaxed.
func formatSearchResults(query string, result *retrieval.Result) string {
	if len(result.Matches) == 0 {
		return fmt.Sprintf(`## Søkeresultater for "%s"

Ingen treff i indekserte lover.

**Tips:** Prøv andre søkeord, eller søk direkte på Lovdata:
https://lovdata.no/sok?q=%s
`, query, strings.ReplaceAll(query, " ", "+"))
	}

	var blocks []string
	for _, m := range result.Matches {
		docType := "Lov"
		if m.Category == store.CategoryRegulation {
			docType = "Forskrift"
		}
		title := m.DocTitle
		if title == "" {
			title = m.ShortTitle
		}
		if title == "" {
			title = m.DokID
		}
		repealed := ""
		if !m.IsCurrent {
			repealed = " (opphevet)"
		}
		areaLine := ""
		if m.LegalArea != "" {
			areaLine = fmt.Sprintf(" | *%s*", m.LegalArea)
		}
		basedOnLine := ""
		if m.Category == store.CategoryRegulation && m.BasedOn != "" {
			basedOnLine = "\n**Hjemmelslov:** " + formatBasedOn(m.BasedOn)
		}
		snippet := m.Snippet
		if snippet == "" {
			snippet = truncate(m.Content, 60)
		}
		blocks = append(blocks, fmt.Sprintf(`### %s: %s%s § %s
**ID:** `+"`%s`"+` **Paragraf:** `+"`%s`"+`%s%s

%s
`, docType, title, repealed, m.SectionID, m.DokID, m.SectionID, areaLine, basedOnLine, snippet))
	}

	fallbackNote := ""
	if result.Mode == retrieval.ModeOrFallback {
		fallbackNote = `
> **Merk:** Søk med alle ordene ga 0 treff. Viser resultater der minst ett av ordene finnes.
> For mer presist søk, bruk ` + "`\"eksakt frase\"`" + ` eller ` + "`ord1 OR ord2`" + ` syntaks.
`
	}
	if result.Mode == retrieval.ModeTextFallback {
		fallbackNote = "\n> **Merk:** Semantisk søk er utilgjengelig; viser fulltekstsøk.\n"
	}

	return fmt.Sprintf(`## Søkeresultater for "%s"

Fant %d treff:
%s
%s
---

**Søk på Lovdata:** https://lovdata.no/sok?q=%s
`, query, len(result.Matches), fallbackNote, strings.Join(blocks, "\n"),
		strings.ReplaceAll(query, " ", "+"))
}

// formatBatch renders a batch fetch; missing labels are listed, not errors.
func formatBatch(doc *store.Document, batch *retrieval.Batch, maxTokens int) string {
	var parts []string
	var refs []string
	totalTokens := 0
	for _, sec := range batch.Sections {
		header := fmt.Sprintf("### § %s\n\n", sec.SectionID)
		if sec.Title != "" {
			header = fmt.Sprintf("### § %s: %s\n\n", sec.SectionID, sec.Title)
		}
		text := truncate(sec.Content, maxTokens)
		parts = append(parts, header+text)
		refs = append(refs, "§ "+sec.SectionID)
		totalTokens += store.EstimateTokens(header + text)
	}

	missing := ""
	if len(batch.Missing) > 0 {
		sorted := append([]string(nil), batch.Missing...)
		sort.Strings(sorted)
		missing = "\n\n> **Ikke funnet:** " + strings.Join(sorted, ", ")
	}
	url := lovdataURL(doc.DokID, "")
	return fmt.Sprintf(`## %s

**Paragrafer:** %s
**Lovdata ID:** %s
**Totalt:** ~%s tokens%s

---

%s

---

**Kilde:** [%s](%s)
%s
`, displayName(doc), strings.Join(refs, ", "), doc.DokID,
		groupThousands(totalTokens), missing,
		strings.Join(parts, "\n\n---\n\n"), url, url, licenseLine)
}

// formatRelated lists regulations enabled by a law.
func formatRelated(input, lawID string, regs []*store.Document) string {
	if len(regs) == 0 {
		return fmt.Sprintf("Ingen forskrifter funnet med hjemmel i **%s** (`%s`).", input, lawID)
	}
	lines := []string{
		fmt.Sprintf("## Forskrifter med hjemmel i %s\n", input),
		fmt.Sprintf("Fant %d forskrifter:\n", len(regs)),
	}
	for _, reg := range regs {
		line := fmt.Sprintf("- **%s**\n  ID: `%s`", displayName(reg), reg.DokID)
		if reg.Ministry != "" {
			line += "\n  Departement: " + reg.Ministry
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "---",
		"*Bruk `forskrift('ID', 'paragraf')` for å slå opp en forskrift.*")
	return strings.Join(lines, "\n")
}

// aliasEntry pairs a curated alias with the title it resolves to.
type aliasEntry struct {
	Alias string
	Name  string
}

type aliasCategory struct {
	Category string
	Entries  []aliasEntry
}

func formatAliases(groups []aliasCategory) string {
	lines := []string{
		"## Aliaser (snarveier)\n",
		"**NB:** Dette er bare snarveier for vanlige lover og forskrifter. " +
			"Alle dokumenter i Lovdata kan slås opp med `lov('lovnavn')` eller `forskrift('navn')`.\n",
		"**Tips:** Bruk `sok('emne')` for å finne lover du ikke kjenner navnet på.\n",
	}
	for _, g := range groups {
		if len(g.Entries) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("### %s\n", g.Category))
		for _, e := range g.Entries {
			lines = append(lines, fmt.Sprintf("- `%s` → %s", e.Alias, e.Name))
		}
		lines = append(lines, "")
	}
	lines = append(lines, "---",
		"*Eksempel: `lov('husleieloven', '9-2')` fungerer selv om loven ikke står i listen.*")
	return strings.Join(lines, "\n")
}

// formatValueList renders ministries or legal areas with a filter hint.
func formatValueList(heading string, values []string, hint string) string {
	if len(values) == 0 {
		return "Ingen " + strings.ToLower(heading) + " funnet. Data er kanskje ikke synkronisert."
	}
	lines := []string{fmt.Sprintf("## %s (%d stk)\n", heading, len(values))}
	for _, v := range values {
		lines = append(lines, "- "+v)
	}
	lines = append(lines, "", "---", hint)
	return strings.Join(lines, "\n")
}

// groupThousands formats n with space as thousands separator, the
// Norwegian convention.
func groupThousands(n int) string {
	s := fmt.Sprint(n)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

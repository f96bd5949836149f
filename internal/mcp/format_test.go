package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paragraf/paragraf/internal/retrieval"
	"github.com/paragraf/paragraf/internal/store"
)

func TestLovdataURL(t *testing.T) {
	assert.Equal(t, "https://lovdata.no/lov/1999-03-26-17",
		lovdataURL("lov/1999-03-26-17", ""))
	assert.Equal(t, "https://lovdata.no/lov/1999-03-26-17/§9-5",
		lovdataURL("LOV-1999-03-26-17", "9-5"))
	assert.Equal(t, "https://lovdata.no/lov/1999-03-26-17/§9-5",
		lovdataURL("lov/1999-03-26-17", "§ 9-5"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Husleieloven", displayName(&store.Document{
		DokID: "lov/1999-03-26-17", Title: "Lov om husleieavtaler", ShortTitle: "Husleieloven"}))
	assert.Equal(t, "Lov om husleieavtaler", displayName(&store.Document{
		DokID: "lov/1999-03-26-17", Title: "Lov om husleieavtaler"}))
	assert.Equal(t, "lov/1999-03-26-17", displayName(&store.Document{DokID: "lov/1999-03-26-17"}))
	assert.Empty(t, displayName(nil))
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 1000)
	assert.Equal(t, long, truncate(long, 0), "zero means unlimited")

	short := truncate(long, 100)
	assert.Less(t, len(short), len(long))
	assert.True(t, strings.HasSuffix(short, "... [avkortet]"))

	assert.Equal(t, "kort", truncate("kort", 100))
}

func TestFormatSection(t *testing.T) {
	doc := &store.Document{
		DokID: "lov/1999-03-26-17", ShortTitle: "Husleieloven", IsCurrent: true,
	}
	out := formatSection(doc, &retrieval.SectionLookup{
		Section: &store.Section{
			SectionID: "9-5", Title: "Utleierens oppsigelsesadgang",
			Content: "En tidsubestemt leieavtale kan sies opp av utleieren.",
		},
		RequestedID: "9-5",
	}, 0)

	assert.Contains(t, out, "## Husleieloven")
	assert.Contains(t, out, "**Paragraf:** § 9-5")
	assert.Contains(t, out, "**Lovdata ID:** lov/1999-03-26-17")
	assert.Contains(t, out, "**Utleierens oppsigelsesadgang**")
	assert.Contains(t, out, "https://lovdata.no/lov/1999-03-26-17/§9-5")
	assert.Contains(t, out, licenseLine)
	assert.NotContains(t, out, "opphevet")
}

func TestFormatSection_RepealedWarning(t *testing.T) {
	doc := &store.Document{DokID: "lov/1687-04-15", ShortTitle: "Gammel lov", IsCurrent: false}
	out := formatSection(doc, &retrieval.SectionLookup{
		Section:     &store.Section{SectionID: "1", Content: "Tekst."},
		RequestedID: "1",
	}, 0)

	assert.Contains(t, out, "## Gammel lov (opphevet)")
	assert.Contains(t, out, "er opphevet")
}

func TestFormatSection_ContainerNote(t *testing.T) {
	doc := &store.Document{DokID: "lov/1999-03-26-17", ShortTitle: "Husleieloven", IsCurrent: true}
	out := formatSection(doc, &retrieval.SectionLookup{
		Section:     &store.Section{SectionID: "4-2", Content: "Hele paragrafen."},
		RequestedID: "4-2 nr 1",
		ContainerID: "4-2",
	}, 0)

	assert.Contains(t, out, "§ 4-2 nr 1 ble ikke funnet som egen seksjon")
	assert.Contains(t, out, "Viser hele § 4-2")
}

func TestFormatBasedOn(t *testing.T) {
	tests := []struct{ raw, want string }{
		{"lov/2005-06-17-62", "lov/2005-06-17-62"},
		{"lov/2005-06-17-62/§1-4", "lov/2005-06-17-62 § 1-4"},
		{"lov/2005-06-17-62/§1-4; lov/2005-06-17-62/§14-12",
			"lov/2005-06-17-62 §§ 1-4, 14-12"},
		{"lov/2005-06-17-62/§1-4; forskrift/2007-05-31-590",
			"lov/2005-06-17-62 § 1-4; forskrift/2007-05-31-590"},
		{"lov/2005-06-17-62/§1-4; lov/2005-06-17-62",
			"lov/2005-06-17-62 § 1-4"},
		{"Kongelig resolusjon", "Kongelig resolusjon"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBasedOn(tt.raw), tt.raw)
	}
}

func TestFormatSearchResults_ZeroHits(t *testing.T) {
	out := formatSearchResults("umulig frase", &retrieval.Result{Mode: retrieval.ModeAnd})
	assert.Contains(t, out, "Ingen treff")
	assert.Contains(t, out, "https://lovdata.no/sok?q=umulig+frase")
}

func TestFormatSearchResults_Hits(t *testing.T) {
	result := &retrieval.Result{
		Mode: retrieval.ModeAnd,
		Matches: []*store.SectionMatch{
			{
				DokID: "lov/1999-03-26-17", SectionID: "9-5",
				DocTitle: "Lov om husleieavtaler", ShortTitle: "Husleieloven",
				Category: store.CategoryLaw, IsCurrent: true,
				LegalArea: "Eiendom og bolig",
				Snippet:   "Ved **oppsigelse** gjelder tre måneders varsel.",
			},
			{
				DokID: "forskrift/2017-06-19-840", SectionID: "1-1",
				DocTitle: "Byggteknisk forskrift",
				Category: store.CategoryRegulation, IsCurrent: true,
				BasedOn: "lov/2008-06-27-71/§21-2",
				Content: "Forskriftens innhold.",
			},
		},
	}
	out := formatSearchResults("oppsigelse", result)

	assert.Contains(t, out, "Fant 2 treff")
	assert.Contains(t, out, "### Lov: Lov om husleieavtaler § 9-5")
	assert.Contains(t, out, "**oppsigelse**")
	assert.Contains(t, out, "### Forskrift: Byggteknisk forskrift § 1-1")
	assert.Contains(t, out, "**Hjemmelslov:** lov/2008-06-27-71 § 21-2")
	assert.NotContains(t, out, "Merk:")
}

func TestFormatSearchResults_FallbackNotes(t *testing.T) {
	match := []*store.SectionMatch{{
		DokID: "lov/1999-03-26-17", SectionID: "9-5",
		DocTitle: "Husleieloven", Category: store.CategoryLaw, IsCurrent: true,
	}}

	out := formatSearchResults("a b", &retrieval.Result{Mode: retrieval.ModeOrFallback, Matches: match})
	assert.Contains(t, out, "Søk med alle ordene ga 0 treff")

	out = formatSearchResults("a b", &retrieval.Result{Mode: retrieval.ModeTextFallback, Matches: match})
	assert.Contains(t, out, "Semantisk søk er utilgjengelig")
}

func TestFormatBatch(t *testing.T) {
	doc := &store.Document{DokID: "lov/1999-03-26-17", ShortTitle: "Husleieloven", IsCurrent: true}
	batch := &retrieval.Batch{
		Sections: []*store.Section{
			{SectionID: "1-1", Title: "Virkeområde", Content: "Loven gjelder husrom."},
			{SectionID: "9-5", Content: "Oppsigelsestekst."},
		},
		Missing: []string{"99", "44"},
	}
	out := formatBatch(doc, batch, 0)

	assert.Contains(t, out, "### § 1-1: Virkeområde")
	assert.Contains(t, out, "### § 9-5")
	assert.Contains(t, out, "**Paragrafer:** § 1-1, § 9-5")
	assert.Contains(t, out, "> **Ikke funnet:** 44, 99")
	assert.Contains(t, out, licenseLine)
}

func TestFormatTOC_Flat(t *testing.T) {
	doc := &store.Document{
		DokID: "lov/1999-03-26-17", Title: "Lov om husleieavtaler",
		Ministry: "Kommunal- og distriktsdepartementet", IsCurrent: true,
	}
	sections := []*store.SectionInfo{
		{SectionID: "1-1", Title: "Virkeområde", EstimatedTokens: 120},
		{SectionID: "1-2", Title: "Ufravikelighet", EstimatedTokens: 2400},
	}
	out := formatTOC(doc, sections, nil)

	assert.Contains(t, out, "### Innholdsfortegnelse: Lov om husleieavtaler")
	assert.Contains(t, out, "**Totalt:** 2 paragrafer (~2 520 tokens)")
	assert.Contains(t, out, "**Departement:** Kommunal- og distriktsdepartementet")
	assert.Contains(t, out, "| § 1-1 | Virkeområde | 120 |")
	assert.Contains(t, out, "| § 1-2 | Ufravikelighet | 2 400 |")
}

func TestFormatTOC_Hierarchical(t *testing.T) {
	doc := &store.Document{DokID: "lov/1999-03-26-17", Title: "Lov om husleieavtaler", IsCurrent: true}
	nodes := []*store.StructureNode{
		{Kind: store.NodeChapter, Label: "1", Title: "Kapittel 1. Alminnelige bestemmelser", Parent: -1},
	}
	sections := []*store.SectionInfo{
		{SectionID: "1-1", Title: "Virkeområde", EstimatedTokens: 120, StructureKey: nodes[0].Key()},
		{SectionID: "99", Title: "Løsrevet", EstimatedTokens: 10},
	}
	out := formatTOC(doc, sections, nodes)

	assert.Contains(t, out, "**Kapittel 1. Alminnelige bestemmelser**")
	assert.Contains(t, out, "§ 1-1: Virkeområde (120 tok)")
	assert.Contains(t, out, "**Andre paragrafer:**")
	assert.Contains(t, out, "§ 99 (10 tok)")
	assert.NotContains(t, out, "| Paragraf |", "structure present, no flat table")
}

func TestFormatRelated(t *testing.T) {
	out := formatRelated("husleieloven", "lov/1999-03-26-17", nil)
	assert.Contains(t, out, "Ingen forskrifter funnet")

	out = formatRelated("plan- og bygningsloven", "lov/2008-06-27-71", []*store.Document{
		{DokID: "forskrift/2017-06-19-840", ShortTitle: "TEK17",
			Ministry: "Kommunal- og distriktsdepartementet"},
	})
	assert.Contains(t, out, "Fant 1 forskrifter")
	assert.Contains(t, out, "**TEK17**")
	assert.Contains(t, out, "`forskrift/2017-06-19-840`")
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "0", groupThousands(0))
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "1 000", groupThousands(1000))
	assert.Equal(t, "12 345", groupThousands(12345))
	assert.Equal(t, "1 234 567", groupThousands(1234567))
}

func TestFlatTOC_CapsAtHundred(t *testing.T) {
	var sections []*store.SectionInfo
	for i := 0; i < 130; i++ {
		sections = append(sections, &store.SectionInfo{
			SectionID: "x", Title: "T", EstimatedTokens: 10,
		})
	}
	lines := flatTOC(sections)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "*30 flere paragrafer*")
	// header + separator + 100 rows + the rest row
	assert.Len(t, lines, 103)
}

func TestFormatAliases(t *testing.T) {
	md := formatAliases([]aliasCategory{
		{Category: "Husleie", Entries: []aliasEntry{
			{Alias: "husleieloven", Name: "Husleieloven"},
			{Alias: "husll", Name: "Husleieloven"},
		}},
		{Category: "Tomt tema"},
	})

	assert.Contains(t, md, "## Aliaser (snarveier)")
	assert.Contains(t, md, "**NB:**")
	assert.Contains(t, md, "### Husleie")
	assert.Contains(t, md, "- `husleieloven` → Husleieloven")
	assert.NotContains(t, md, "Tomt tema")
	assert.Contains(t, md, "fungerer selv om loven ikke står i listen")
}

package store

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paragraf/paragraf/internal/errors"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedLaw(t *testing.T, st *SQLiteStore, dokID, title, shortTitle string) {
	t.Helper()
	require.NoError(t, st.UpsertDocument(context.Background(), &Document{
		DokID:      dokID,
		RefID:      dokID,
		Title:      title,
		ShortTitle: shortTitle,
		Category:   CategoryLaw,
		Ministry:   "Justis- og beredskapsdepartementet",
		IsCurrent:  true,
	}))
}

func seedSection(t *testing.T, st *SQLiteStore, dokID, sectionID, title, content string) {
	t.Helper()
	require.NoError(t, st.UpsertSection(context.Background(), &Section{
		DokID:       dokID,
		SectionID:   sectionID,
		Title:       title,
		Content:     content,
		CharCount:   len(content),
		Fingerprint: Fingerprint(content),
	}))
}

func TestSQLiteStore_UpsertAndGetDocument(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Lov om husleieavtaler (husleieloven)", "Husleieloven")

	// Lookup by canonical ID
	doc, err := st.GetDocument(ctx, "lov/1999-03-26-17")
	require.NoError(t, err)
	assert.Equal(t, "Husleieloven", doc.ShortTitle)
	assert.True(t, doc.IsCurrent)

	// Lookup normalizes publisher-form IDs
	doc, err = st.GetDocument(ctx, "LOV-1999-03-26-17")
	require.NoError(t, err)
	assert.Equal(t, "lov/1999-03-26-17", doc.DokID)

	// Unknown ID is a NotFound, not an internal error
	_, err = st.GetDocument(ctx, "lov/1900-01-01-1")
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStore_GetDocumentByRefID(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertDocument(ctx, &Document{
		DokID:     "forskrift/2017-06-19-840",
		RefID:     "forskrift/2017-06-19-840-tek",
		Title:     "Byggteknisk forskrift",
		Category:  CategoryRegulation,
		IsCurrent: true,
	}))

	doc, err := st.GetDocument(ctx, "forskrift/2017-06-19-840-tek")
	require.NoError(t, err)
	assert.Equal(t, "forskrift/2017-06-19-840", doc.DokID)
}

func TestSQLiteStore_UpsertDocument_Idempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Gammel tittel", "Husleieloven")
	seedLaw(t, st, "lov/1999-03-26-17", "Ny tittel", "Husleieloven")

	doc, err := st.GetDocument(ctx, "lov/1999-03-26-17")
	require.NoError(t, err)
	assert.Equal(t, "Ny tittel", doc.Title)

	docs, err := st.DocumentsByCategory(ctx, CategoryLaw)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSQLiteStore_FindByShortTitle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Lov om husleieavtaler", "Husleieloven")

	doc, err := st.FindByShortTitle(ctx, "husleieloven")
	require.NoError(t, err)
	assert.Equal(t, "lov/1999-03-26-17", doc.DokID)

	_, err = st.FindByShortTitle(ctx, "fantasiloven")
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStore_FuzzyShortTitle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Lov om husleieavtaler", "Husleieloven")
	seedLaw(t, st, "lov/2005-06-17-62", "Lov om arbeidsmiljø", "Arbeidsmiljøloven")

	// Typo still resolves to the right law, best match first
	matches, err := st.FuzzyShortTitle(ctx, "husleielovn", 0.3, 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "lov/1999-03-26-17", matches[0].DokID)
	assert.Greater(t, matches[0].Similarity, 0.3)

	// Nothing above threshold
	matches, err = st.FuzzyShortTitle(ctx, "xyzxyzxyz", 0.3, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSQLiteStore_SectionRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse",
		"Utleieren kan si opp leieavtalen med tre måneders varsel.")

	sec, err := st.GetSection(ctx, "lov/1999-03-26-17", "9-5")
	require.NoError(t, err)
	assert.Equal(t, "Oppsigelse", sec.Title)
	assert.NotEmpty(t, sec.Fingerprint)

	_, err = st.GetSection(ctx, "lov/1999-03-26-17", "99-99")
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteStore_GetSections_PreservesRequestOrder(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "1-1", "Virkeområde", "Loven gjelder leieavtaler.")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse", "Utleieren kan si opp.")

	secs, err := st.GetSections(ctx, "lov/1999-03-26-17", []string{"9-5", "1-1", "77"})
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, "9-5", secs[0].SectionID)
	assert.Equal(t, "1-1", secs[1].SectionID)
}

func TestSQLiteStore_FullTextQuery(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse",
		"Ved oppsigelse gjelder tre måneders varsel.")
	seedSection(t, st, "lov/1999-03-26-17", "3-5", "Depositum",
		"Det kan avtales at leieren skal deponere et beløp som sikkerhet.")

	matches, err := st.FullTextQuery(ctx, "oppsigelse", Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "9-5", matches[0].SectionID)
	assert.Equal(t, "Husleieloven", matches[0].ShortTitle)
	assert.Greater(t, matches[0].Rank, 0.0)
	assert.Contains(t, matches[0].Snippet, "**")
}

func TestSQLiteStore_FullTextQuery_TitleMatches(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "3-5", "Depositum",
		"Det kan avtales et beløp som sikkerhet.")

	// The section title is indexed alongside the body
	matches, err := st.FullTextQuery(ctx, "depositum", Filters{}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSQLiteStore_FullTextQuery_Filters(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse", "Oppsigelse av leieavtale.")
	require.NoError(t, st.UpsertDocument(ctx, &Document{
		DokID:     "forskrift/2017-06-19-840",
		Title:     "Byggteknisk forskrift",
		Category:  CategoryRegulation,
		IsCurrent: true,
	}))
	seedSection(t, st, "forskrift/2017-06-19-840", "8-1", "Uteareal", "Oppsigelse nevnes også her.")

	matches, err := st.FullTextQuery(ctx, "oppsigelse", Filters{Category: CategoryLaw}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, CategoryLaw, matches[0].Category)
}

func TestSQLiteStore_FullTextQuery_ExcludesAmendmentsByDefault(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertDocument(ctx, &Document{
		DokID:       "lov/2020-01-01-1",
		Title:       "Lov om endringer i husleieloven",
		Category:    CategoryLaw,
		IsAmendment: true,
		IsCurrent:   true,
	}))
	seedSection(t, st, "lov/2020-01-01-1", "I", "", "I husleieloven gjøres følgende endringer om depositum.")

	matches, err := st.FullTextQuery(ctx, "depositum", Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = st.FullTextQuery(ctx, "depositum", Filters{IncludeAmendments: true}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSQLiteStore_FullTextQuery_NoPositiveTermsYieldsNoResults(t *testing.T) {
	st := testStore(t)

	matches, err := st.FullTextQuery(context.Background(), "-depositum", Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSQLiteStore_UpsertSection_ReindexesFTS(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse", "Gammel tekst om varsel.")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse", "Ny tekst om depositum.")

	stale, err := st.FullTextQuery(ctx, "varsel", Filters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, stale, "old text must leave the index")

	fresh, err := st.FullTextQuery(ctx, "depositum", Filters{}, 10)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestSQLiteStore_SectionFingerprints(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "1-1", "Virkeområde", "Loven gjelder leieavtaler.")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse", "Tre måneders varsel.")

	prints, err := st.SectionFingerprints(ctx, "lov/1999-03-26-17")
	require.NoError(t, err)
	assert.Len(t, prints, 2)
	assert.Equal(t, Fingerprint("Loven gjelder leieavtaler."), prints["1-1"])
}

func TestSQLiteStore_Structure_ReplaceAndList(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	nodes := []*StructureNode{
		{Kind: NodeChapter, Label: "1", Title: "Kapittel 1. Alminnelige bestemmelser", Ordinal: 0, Parent: -1},
		{Kind: NodeChapter, Label: "9", Title: "Kapittel 9. Opphør av leieforhold", Ordinal: 1, Parent: -1},
		{Kind: NodeSubchapter, Label: "I", Title: "I. Oppsigelse", Ordinal: 0, Parent: 1},
	}
	require.NoError(t, st.ReplaceStructure(ctx, "lov/1999-03-26-17", nodes))

	got, err := st.ListStructure(ctx, "lov/1999-03-26-17")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, -1, got[0].Parent)
	assert.Equal(t, 1, got[2].Parent, "parent index must survive the round trip")

	// Replace discards the old tree
	require.NoError(t, st.ReplaceStructure(ctx, "lov/1999-03-26-17", nodes[:1]))
	got, err = st.ListStructure(ctx, "lov/1999-03-26-17")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_Structure_RejectsForwardParent(t *testing.T) {
	st := testStore(t)

	err := st.ReplaceStructure(context.Background(), "lov/1999-03-26-17", []*StructureNode{
		{Kind: NodeChapter, Label: "1", Parent: 1},
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindInvariant, errors.KindOf(err))
}

func TestSQLiteStore_MarkNonCurrent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedLaw(t, st, "lov/1965-06-18-4", "Vegtrafikkloven", "Vegtrafikkloven")

	// Second sync no longer carries the old law
	n, err := st.MarkNonCurrent(ctx, CategoryLaw, []string{"lov/1999-03-26-17"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, err := st.GetDocument(ctx, "lov/1965-06-18-4")
	require.NoError(t, err)
	assert.False(t, doc.IsCurrent)

	// A later sync carrying it again resurrects it
	n, err = st.MarkNonCurrent(ctx, CategoryLaw, []string{"lov/1999-03-26-17", "lov/1965-06-18-4"})
	require.NoError(t, err)
	assert.Zero(t, n)

	doc, err = st.GetDocument(ctx, "lov/1965-06-18-4")
	require.NoError(t, err)
	assert.True(t, doc.IsCurrent)
}

func TestSQLiteStore_RelatedRegulations(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/2008-06-27-71", "Plan- og bygningsloven", "Plan- og bygningsloven")
	require.NoError(t, st.UpsertDocument(ctx, &Document{
		DokID:     "forskrift/2017-06-19-840",
		Title:     "Byggteknisk forskrift",
		Category:  CategoryRegulation,
		BasedOn:   "lov/2008-06-27-71/§21-2; lov/2008-06-27-71",
		IsCurrent: true,
	}))
	require.NoError(t, st.UpsertDocument(ctx, &Document{
		DokID:     "forskrift/2010-03-26-488",
		Title:     "Byggesaksforskriften",
		Category:  CategoryRegulation,
		BasedOn:   "lov/2008-06-27-71",
		IsCurrent: true,
	}))
	require.NoError(t, st.UpsertDocument(ctx, &Document{
		DokID:     "forskrift/2007-05-31-590",
		Title:     "Urelatert forskrift",
		Category:  CategoryRegulation,
		BasedOn:   "lov/2005-06-17-62",
		IsCurrent: true,
	}))

	regs, err := st.RelatedRegulations(ctx, "lov/2008-06-27-71")
	require.NoError(t, err)
	require.Len(t, regs, 2)
}

func TestSQLiteStore_ListMinistriesAndLegalAreas(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	require.NoError(t, st.SetLegalArea(ctx, "lov/1999-03-26-17", "Eiendom og bolig"))

	ministries, err := st.ListMinistries(ctx)
	require.NoError(t, err)
	assert.Contains(t, ministries, "Justis- og beredskapsdepartementet")

	areas, err := st.ListLegalAreas(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Eiendom og bolig"}, areas)
}

func TestSQLiteStore_SyncLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	// Fresh database: never synced
	synced, err := st.IsSynced(ctx)
	require.NoError(t, err)
	assert.False(t, synced)

	require.NoError(t, st.BeginSync(ctx, DatasetLaws))

	// Second sync of the same dataset is rejected while the first runs
	err = st.BeginSync(ctx, DatasetLaws)
	require.Error(t, err)
	assert.Equal(t, errors.KindLockConflict, errors.KindOf(err))

	modified := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.FinishSync(ctx, DatasetLaws, modified, 764))

	state, err := st.GetSyncState(ctx, DatasetLaws)
	require.NoError(t, err)
	assert.Equal(t, SyncIdle, state.Status)
	assert.Equal(t, 764, state.FileCount)
	assert.True(t, state.LastModified.Equal(modified))
	assert.False(t, state.SyncedAt.IsZero())

	// Finished sync releases the lock
	require.NoError(t, st.BeginSync(ctx, DatasetLaws))
	require.NoError(t, st.FailSync(ctx, DatasetLaws, "network gone"))

	state, err = st.GetSyncState(ctx, DatasetLaws)
	require.NoError(t, err)
	assert.Equal(t, SyncError, state.Status)
	assert.Equal(t, "network gone", state.ErrorMessage)

	// A failed sync can be retried
	require.NoError(t, st.BeginSync(ctx, DatasetLaws))
	require.NoError(t, st.FinishSync(ctx, DatasetLaws, modified, 764))

	// Both datasets synced -> IsSynced
	require.NoError(t, st.BeginSync(ctx, DatasetRegulations))
	require.NoError(t, st.FinishSync(ctx, DatasetRegulations, modified, 3100))
	synced, err = st.IsSynced(ctx)
	require.NoError(t, err)
	assert.True(t, synced)
}

func TestSQLiteStore_Embeddings(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "1-1", "Virkeområde", "Loven gjelder leieavtaler.")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse", "Tre måneders varsel.")

	missing, err := st.SectionsWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, missing, 2)

	require.NoError(t, st.SaveSectionEmbedding(ctx, &SectionEmbedding{
		DokID:     "lov/1999-03-26-17",
		SectionID: "1-1",
		Vector:    []float32{1, 0, 0, 0},
		Model:     "gemini-embedding-001",
	}))

	missing, err = st.SectionsWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "9-5", missing[0].SectionID)

	// Re-indexing changed text clears the stored vector
	require.NoError(t, st.InvalidateEmbedding(ctx, "lov/1999-03-26-17", "1-1"))
	missing, err = st.SectionsWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, missing, 2)
}

func TestSQLiteStore_VectorQuery(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedLaw(t, st, "lov/1999-03-26-17", "Husleieloven", "Husleieloven")
	seedSection(t, st, "lov/1999-03-26-17", "1-1", "Virkeområde", "Loven gjelder leieavtaler.")
	seedSection(t, st, "lov/1999-03-26-17", "9-5", "Oppsigelse", "Tre måneders varsel.")

	require.NoError(t, st.SaveSectionEmbedding(ctx, &SectionEmbedding{
		DokID: "lov/1999-03-26-17", SectionID: "1-1",
		Vector: []float32{1, 0, 0, 0}, Model: "m",
	}))
	require.NoError(t, st.SaveSectionEmbedding(ctx, &SectionEmbedding{
		DokID: "lov/1999-03-26-17", SectionID: "9-5",
		Vector: []float32{0, 1, 0, 0}, Model: "m",
	}))

	matches, err := st.VectorQuery(ctx, []float32{0.95, 0.05, 0, 0}, Filters{}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "1-1", matches[0].SectionID)
	assert.Greater(t, matches[0].Similarity, 0.9)
	assert.Equal(t, "Husleieloven", matches[0].ShortTitle)
}

func TestMapSQLiteErr_ConstraintIsPermanentItem(t *testing.T) {
	st := testStore(t)
	_, err := st.db.Exec(`INSERT INTO documents (dok_id, category) VALUES ('lov/1999-03-26-17', 'lov')`)
	require.NoError(t, err)
	_, err = st.db.Exec(`INSERT INTO documents (dok_id, category) VALUES ('lov/1999-03-26-17', 'lov')`)
	require.Error(t, err)

	mapped := mapSQLiteErr("failed to upsert document", err)
	assert.Equal(t, errors.KindPermanentItem, errors.KindOf(mapped))
}

func TestMapSQLiteErr_UnknownIsInternal(t *testing.T) {
	mapped := mapSQLiteErr("write failed", stderrors.New("disk I/O error"))
	assert.Equal(t, errors.KindInternal, errors.KindOf(mapped))
}

package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paragraf/paragraf/internal/embed"
	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/internal/store"
)

type stubEmbedder struct {
	calls   int
	failFor map[string]error // keyed on embedded text prefix
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, task embed.TaskType) ([]float32, error) {
	s.calls++
	for prefix, err := range s.failFor {
		if len(text) >= len(prefix) && text[:len(prefix)] == prefix {
			return nil, err
		}
	}
	return []float32{1, 0}, nil
}

func (s *stubEmbedder) Model() string   { return "stub" }
func (s *stubEmbedder) Dimensions() int { return 2 }

func seedPending(t *testing.T, st store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertDocument(ctx, &store.Document{
		DokID: "lov/1999-03-26-17", Title: "Husleieloven",
		Category: store.CategoryLaw, IsCurrent: true,
	}))
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("1-%d", i+1)
		content := "Innhold for paragraf " + id
		require.NoError(t, st.UpsertSection(ctx, &store.Section{
			DokID: "lov/1999-03-26-17", SectionID: id,
			Content: content, Fingerprint: store.Fingerprint(content),
		}))
	}
}

func testBackfiller(t *testing.T, embedder embed.Embedder) (*Backfiller, store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewBackfiller(st, embedder, logger), st
}

func TestBackfill_EmbedsAllPending(t *testing.T) {
	emb := &stubEmbedder{}
	b, st := testBackfiller(t, emb)
	seedPending(t, st, 5)

	report, err := b.Run(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Embedded)
	assert.Zero(t, report.Failed)

	pending, err := st.SectionsWithoutEmbedding(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBackfill_HonorsMaxSections(t *testing.T) {
	emb := &stubEmbedder{}
	b, st := testBackfiller(t, emb)
	seedPending(t, st, 5)

	report, err := b.Run(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Embedded)

	pending, err := st.SectionsWithoutEmbedding(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestBackfill_TransientFailureSkipsAndContinues(t *testing.T) {
	emb := &stubEmbedder{failFor: map[string]error{
		"Innhold for paragraf 1-2": errors.Transient("rate limited"),
	}}
	b, st := testBackfiller(t, emb)
	seedPending(t, st, 3)

	report, err := b.Run(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 1, report.Failed)
}

func TestBackfill_PermanentFailureAbortsRun(t *testing.T) {
	emb := &stubEmbedder{failFor: map[string]error{
		"Innhold for paragraf 1-1": errors.Validation("text rejected"),
	}}
	b, st := testBackfiller(t, emb)
	seedPending(t, st, 3)

	_, err := b.Run(context.Background(), 10, 0)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestBackfill_EmptyCorpusIsNoop(t *testing.T) {
	emb := &stubEmbedder{}
	b, _ := testBackfiller(t, emb)

	report, err := b.Run(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Embedded)
	assert.Zero(t, emb.calls)
}

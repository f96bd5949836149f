package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/paragraf/paragraf/internal/embed"
	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/internal/store"
)

// Backfiller embeds sections that have no stored vector yet: new
// sections after a sync, and sections whose embedding was invalidated by
// a text change.
type Backfiller struct {
	store    store.Store
	embedder embed.Embedder
	logger   *slog.Logger
}

func NewBackfiller(st store.Store, embedder embed.Embedder, logger *slog.Logger) *Backfiller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{store: st, embedder: embedder, logger: logger}
}

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	Embedded int
	Failed   int
	Elapsed  time.Duration
}

// Run embeds pending sections in batches until none remain, maxSections
// is reached (0 = unlimited), or the context ends. Per-section embedding
// failures after retries are counted and skipped.
func (b *Backfiller) Run(ctx context.Context, batchSize, maxSections int) (*BackfillReport, error) {
	if batchSize < 1 {
		batchSize = 100
	}
	start := time.Now()
	report := &BackfillReport{}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		limit := batchSize
		if maxSections > 0 && maxSections-report.Embedded < limit {
			limit = maxSections - report.Embedded
		}
		if limit <= 0 {
			break
		}
		pending, err := b.store.SectionsWithoutEmbedding(ctx, limit)
		if err != nil {
			return report, err
		}
		// Failed sections stay pending and would be refetched forever;
		// stop once a whole batch produced nothing new.
		progressed := false
		for _, sec := range pending {
			text := sec.Content
			if sec.Title != "" {
				text = sec.Title + "\n\n" + text
			}
			vec, err := b.embedder.Embed(ctx, text, embed.TaskDocument)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				b.logger.Warn("embedding failed",
					slog.String("dok_id", sec.DokID),
					slog.String("section_id", sec.SectionID),
					slog.String("error", err.Error()))
				report.Failed++
				if !errors.IsRetryable(err) {
					// A permanent API rejection will repeat for every
					// section; give up on the run.
					report.Elapsed = time.Since(start)
					return report, err
				}
				continue
			}
			if err := b.store.SaveSectionEmbedding(ctx, &store.SectionEmbedding{
				DokID:     sec.DokID,
				SectionID: sec.SectionID,
				Vector:    vec,
				Model:     b.embedder.Model(),
			}); err != nil {
				return report, err
			}
			report.Embedded++
			progressed = true
		}
		if len(pending) < limit || !progressed {
			break
		}
	}
	report.Elapsed = time.Since(start)
	b.logger.Info("embedding backfill finished",
		slog.Int("embedded", report.Embedded),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Elapsed))
	return report, nil
}

// Package syncer drives one dataset through fetch, parse, diff, and
// upsert, tracking per-dataset sync state. One run is archive-grained:
// single-document failures are skipped, only fetch or store loss aborts.
package syncer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/internal/fetch"
	"github.com/paragraf/paragraf/internal/parse"
	"github.com/paragraf/paragraf/internal/store"
)

// Syncer orchestrates dataset synchronization.
type Syncer struct {
	client  *fetch.Client
	store   store.Store
	workers int
	logger  *slog.Logger
}

// New builds a syncer. workers bounds per-document parse/upsert
// parallelism within one run.
func New(client *fetch.Client, st store.Store, workers int, logger *slog.Logger) *Syncer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{client: client, store: st, workers: workers, logger: logger}
}

// Report summarizes one dataset run.
type Report struct {
	Dataset   store.Dataset
	NoUpdate  bool // archive unchanged since last sync, nothing done
	Documents int  // documents indexed
	Sections  int  // sections upserted (new or changed)
	Unchanged int  // sections skipped by fingerprint match
	Skipped   int  // documents dropped for unrecoverable per-item errors
	Elapsed   time.Duration
}

// SyncAll runs every dataset in order. Per-dataset failures are
// collected in the reports; the first lock conflict is returned as-is so
// callers can tell "already running" apart from real failures.
func (s *Syncer) SyncAll(ctx context.Context, force bool) ([]*Report, error) {
	var reports []*Report
	for _, dataset := range store.Datasets {
		report, err := s.Sync(ctx, dataset, force)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Sync runs one dataset. force re-indexes even when the archive's
// modification time is unchanged; the per-dataset lock is honored either
// way and a concurrent run is rejected with a lock-conflict error.
func (s *Syncer) Sync(ctx context.Context, dataset store.Dataset, force bool) (*Report, error) {
	start := time.Now()
	report := &Report{Dataset: dataset}

	info, err := s.client.FileModified(ctx, dataset.ArchiveFile())
	if err != nil {
		return nil, err
	}
	state, err := s.store.GetSyncState(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if !force && !state.SyncedAt.IsZero() && !info.LastModified.After(state.LastModified) {
		s.logger.Info("dataset up to date",
			slog.String("dataset", string(dataset)),
			slog.Time("last_modified", info.LastModified))
		report.NoUpdate = true
		return report, nil
	}

	if err := s.store.BeginSync(ctx, dataset); err != nil {
		return nil, err
	}
	if err := s.run(ctx, dataset, report); err != nil {
		if failErr := s.store.FailSync(ctx, dataset, err.Error()); failErr != nil {
			s.logger.Error("failed to record sync error",
				slog.String("dataset", string(dataset)),
				slog.String("error", failErr.Error()))
		}
		return nil, err
	}
	if err := s.store.FinishSync(ctx, dataset, info.LastModified, report.Documents); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)
	s.logger.Info("sync finished",
		slog.String("dataset", string(dataset)),
		slog.Int("documents", report.Documents),
		slog.Int("sections", report.Sections),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("skipped", report.Skipped),
		slog.Duration("elapsed", report.Elapsed))
	return report, nil
}

func (s *Syncer) run(ctx context.Context, dataset store.Dataset, report *Report) error {
	category := dataset.Category()

	var mu sync.Mutex
	var seen []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	walkErr := s.client.WalkArchive(ctx, dataset.ArchiveFile(), func(entry fetch.Entry) error {
		if !strings.HasSuffix(entry.Name, ".xml") {
			return nil
		}
		// The tar reader is only valid inside the callback; copy the
		// document before handing it to a worker.
		data, err := io.ReadAll(entry.Reader)
		if err != nil {
			return errors.Transient("failed to read archive entry").
				WithDetail("entry", entry.Name).WithDetail("cause", err.Error())
		}
		name := entry.Name
		g.Go(func() error {
			dokID, secs, unchanged, err := s.indexDocument(gctx, name, data, category)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.KindOf(err) == errors.KindPermanentItem || errors.KindOf(err) == errors.KindInvariant {
					s.logger.Warn("skipping document",
						slog.String("entry", name),
						slog.String("error", err.Error()))
					report.Skipped++
					return nil
				}
				return err
			}
			seen = append(seen, dokID)
			report.Documents++
			report.Sections += secs
			report.Unchanged += unchanged
			return nil
		})
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}

	if _, err := s.store.MarkNonCurrent(ctx, category, seen); err != nil {
		return err
	}

	if category == store.CategoryRegulation {
		if err := s.deriveLegalAreas(ctx); err != nil {
			return err
		}
	}
	return nil
}

// indexDocument parses one archive entry and persists it: document row,
// changed sections (by fingerprint), and the structure tree. Returns the
// document ID, upserted section count, and unchanged section count.
func (s *Syncer) indexDocument(ctx context.Context, name string, data []byte, category store.Category) (string, int, int, error) {
	fallbackID := strings.TrimSuffix(stemOf(name), ".xml")
	result, err := parse.Parse(bytes.NewReader(data), category, fallbackID)
	if err != nil {
		return "", 0, 0, err
	}
	doc := result.Document

	existing, err := s.store.SectionFingerprints(ctx, doc.DokID)
	if err != nil {
		return "", 0, 0, err
	}
	if err := s.store.UpsertDocument(ctx, doc); err != nil {
		return "", 0, 0, err
	}

	upserted, unchanged := 0, 0
	for _, sec := range result.Sections {
		if existing[sec.SectionID] == sec.Fingerprint {
			unchanged++
			continue
		}
		if err := s.store.UpsertSection(ctx, sec); err != nil {
			return "", 0, 0, err
		}
		// Text changed: the stored vector no longer describes it.
		if _, had := existing[sec.SectionID]; had {
			if err := s.store.InvalidateEmbedding(ctx, sec.DokID, sec.SectionID); err != nil {
				return "", 0, 0, err
			}
		}
		upserted++
	}

	if err := s.store.ReplaceStructure(ctx, doc.DokID, result.Nodes); err != nil {
		return "", 0, 0, err
	}
	return doc.DokID, upserted, unchanged, nil
}

// deriveLegalAreas assigns a legal area to regulations that lack one by
// following the first enabling law reference.
func (s *Syncer) deriveLegalAreas(ctx context.Context) error {
	regs, err := s.store.DocumentsByCategory(ctx, store.CategoryRegulation)
	if err != nil {
		return err
	}
	derived := 0
	for _, reg := range regs {
		if reg.LegalArea != "" || reg.BasedOn == "" || !reg.IsCurrent {
			continue
		}
		lawID := firstLawRef(reg.BasedOn)
		if lawID == "" {
			continue
		}
		law, err := s.store.GetDocument(ctx, lawID)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return err
		}
		if law.LegalArea == "" {
			continue
		}
		if err := s.store.SetLegalArea(ctx, reg.DokID, law.LegalArea); err != nil {
			return err
		}
		derived++
	}
	if derived > 0 {
		s.logger.Info("derived legal areas", slog.Int("regulations", derived))
	}
	return nil
}

// firstLawRef returns the first law reference in a "; "-delimited
// enabling list, empty when none parses as a law ID.
func firstLawRef(basedOn string) string {
	for _, ref := range strings.Split(basedOn, ";") {
		id := store.NormalizeID(strings.TrimSpace(ref))
		// References may point at a section, e.g. "lov/2008-06-27-71/§21-2".
		if i := strings.Index(id, "/§"); i >= 0 {
			id = id[:i]
		}
		if strings.HasPrefix(id, "lov/") {
			return id
		}
	}
	return ""
}

func stemOf(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

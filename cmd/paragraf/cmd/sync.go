package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/paragraf/paragraf/internal/errors"
	"github.com/paragraf/paragraf/internal/fetch"
	"github.com/paragraf/paragraf/internal/store"
	"github.com/paragraf/paragraf/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	var force bool
	var dataset string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download and index laws and regulations from Lovdata",
		Long: `Fetch the current consolidated archives from the Lovdata public
data API and index them. Unchanged archives are skipped unless --force
is given; unchanged sections within a changed archive are never
re-indexed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), force, dataset)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-index even when the archive is unchanged")
	cmd.Flags().StringVar(&dataset, "dataset", "", "Sync one dataset only (lover or forskrifter)")

	return cmd
}

func runSync(ctx context.Context, force bool, dataset string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	client := fetch.NewClient(a.cfg.API, a.logger)
	s := syncer.New(client, a.store, a.cfg.Sync.Workers, a.logger)

	var reports []*syncer.Report
	if dataset != "" {
		ds, err := parseDataset(dataset)
		if err != nil {
			return err
		}
		report, err := s.Sync(ctx, ds, force)
		if err != nil {
			return syncErr(ds, err)
		}
		reports = append(reports, report)
	} else {
		reports, err = s.SyncAll(ctx, force)
		if err != nil {
			return err
		}
	}

	for _, r := range reports {
		if r.NoUpdate {
			fmt.Printf("%s: up to date\n", r.Dataset)
			continue
		}
		fmt.Printf("%s: %d documents, %d sections indexed (%d unchanged, %d skipped) in %s\n",
			r.Dataset, r.Documents, r.Sections, r.Unchanged, r.Skipped, r.Elapsed.Round(time.Millisecond))
	}
	return nil
}

func parseDataset(name string) (store.Dataset, error) {
	for _, ds := range store.Datasets {
		if string(ds) == name {
			return ds, nil
		}
	}
	return "", fmt.Errorf("unknown dataset %q (want lover or forskrifter)", name)
}

func syncErr(ds store.Dataset, err error) error {
	if errors.KindOf(err) == errors.KindLockConflict {
		return fmt.Errorf("sync for %s is already running", ds)
	}
	return err
}

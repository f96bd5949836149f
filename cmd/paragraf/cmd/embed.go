package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/paragraf/paragraf/internal/syncer"
)

func newEmbedCmd() *cobra.Command {
	var batchSize int
	var maxSections int

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Backfill embeddings for sections that lack them",
		Long: `Compute embeddings for indexed sections without a stored vector.
Requires the embedding API key (GEMINI_API_KEY by default). Safe to
interrupt and re-run; each section is embedded at most once until its
text changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbed(cmd.Context(), batchSize, maxSections)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "Sections fetched per store round-trip")
	cmd.Flags().IntVar(&maxSections, "max", 0, "Stop after this many sections (0 = all)")

	return cmd
}

func runEmbed(ctx context.Context, batchSize, maxSections int) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	embedder := a.embedder()
	if embedder == nil {
		return fmt.Errorf("embedding API key not set (see embedding.api_key_env in config)")
	}

	backfiller := syncer.NewBackfiller(a.store, embedder, a.logger)
	report, err := backfiller.Run(ctx, batchSize, maxSections)
	if err != nil {
		return err
	}
	fmt.Printf("embedded %d sections (%d failed) in %s\n",
		report.Embedded, report.Failed, report.Elapsed.Round(time.Millisecond))
	return nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paragraf/paragraf/internal/retrieval"
	"github.com/paragraf/paragraf/internal/store"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var category string
	var semantic bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed corpus from the command line",
		Long: `Run a full-text search against the local index. Queries support
"exact phrases", OR between terms, and -exclusion. With --semantic the
query also goes through the embedding model and results are fused.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]
			for _, a := range args[1:] {
				query += " " + a
			}
			return runSearch(cmd.Context(), query, category, limit, semantic)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVar(&category, "category", "", "Restrict to 'lov' or 'forskrift'")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "Use hybrid semantic search")

	return cmd
}

func runSearch(ctx context.Context, query, category string, limit int, semantic bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	var filters store.Filters
	switch category {
	case "":
	case "lov":
		filters.Category = store.CategoryLaw
	case "forskrift":
		filters.Category = store.CategoryRegulation
	default:
		return fmt.Errorf("unknown category %q (want lov or forskrift)", category)
	}

	engine := retrieval.New(a.store, a.embedder(), a.cfg.Search, a.logger)
	run := engine.Search
	if semantic {
		run = engine.HybridSearch
	}
	result, err := run(ctx, query, filters, limit)
	if err != nil {
		return err
	}

	if len(result.Matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	if result.Mode == retrieval.ModeOrFallback {
		fmt.Println("note: conjunctive search had no matches; showing any-term results")
	}
	for i, m := range result.Matches {
		title := m.ShortTitle
		if title == "" {
			title = m.DocTitle
		}
		fmt.Printf("%2d. %s § %s  (%s)\n", i+1, title, m.SectionID, m.DokID)
		if m.Snippet != "" {
			fmt.Printf("    %s\n", m.Snippet)
		}
	}
	return nil
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/paragraf/paragraf/internal/mcp"
	"github.com/paragraf/paragraf/internal/resolve"
	"github.com/paragraf/paragraf/internal/retrieval"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Serve the indexed corpus over the Model Context Protocol. Log
output goes to stderr; stdout carries the protocol. Run 'paragraf sync'
first to populate the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	resolver := resolve.New(a.store, a.logger)
	engine := retrieval.New(a.store, a.embedder(), a.cfg.Search, a.logger)

	synced, err := a.store.IsSynced(ctx)
	if err != nil {
		return err
	}
	if !synced {
		a.logger.Warn("database not fully synced; lookups may miss", "hint", "run 'paragraf sync'")
	}

	server := mcp.NewServer(a.store, resolver, engine, a.cfg, a.logger)
	return server.Run(ctx)
}

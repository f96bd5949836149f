// Package cmd provides the CLI commands for paragraf.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paragraf/paragraf/internal/config"
	"github.com/paragraf/paragraf/internal/embed"
	"github.com/paragraf/paragraf/internal/logging"
	"github.com/paragraf/paragraf/internal/store"
	"github.com/paragraf/paragraf/pkg/version"
)

var (
	configPath string
	logLevel   string
)

// NewRootCmd creates the root command for the paragraf CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paragraf",
		Short: "Norwegian statutory text over the Model Context Protocol",
		Long: `Paragraf indexes Norwegian laws and regulations from the Lovdata
public data API and serves them to AI assistants over MCP: lookup by
alias or ID, full-text and hybrid search, and batch retrieval.

Running 'paragraf' with no subcommand starts the MCP server on stdio.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("paragraf version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newEmbedCmd())

	return cmd
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// app holds the shared runtime pieces a command needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	cleanup func()
}

// newApp loads config, sets up logging, and opens the store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Server.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:    level,
		FilePath: cfg.Server.LogFile,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logCleanup()
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		cleanup: func() {
			_ = st.Close()
			logCleanup()
		},
	}, nil
}

// embedder returns the configured embedding client, or nil when no API
// key is available. Callers degrade to text-only search on nil.
func (a *app) embedder() embed.Embedder {
	client, err := embed.NewClient(a.cfg.Embedding)
	if err != nil {
		a.logger.Warn("embeddings disabled", "reason", err.Error())
		return nil
	}
	cached, err := embed.NewCached(client, a.cfg.Embedding.CacheSize)
	if err != nil {
		return client
	}
	return cached
}

package store

import (
	"context"
	"log/slog"

	"github.com/paragraf/paragraf/internal/config"
)

// Open picks a backend from configuration: Postgres when a database URL
// is set, the embedded SQLite database otherwise.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg.UsePostgres() {
		logger.Debug("opening postgres store")
		return NewPostgresStore(ctx, cfg.Store.DatabaseURL, logger)
	}
	logger.Debug("opening sqlite store", slog.String("path", cfg.SQLitePath()))
	return NewSQLiteStore(cfg.SQLitePath(), logger)
}

package store

import (
	"context"
	"log/slog"
)

// Options selects a backend. Postgres wins over SQLite; with neither set
// records stay in memory.
type Options struct {
	DatabaseURL string
	SQLitePath  string
}

func Open(ctx context.Context, opts Options, logger *slog.Logger) (TraceStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case opts.DatabaseURL != "":
		logger.InfoContext(ctx, "trace store: postgres")
		return OpenPostgres(ctx, opts.DatabaseURL)
	case opts.SQLitePath != "":
		logger.InfoContext(ctx, "trace store: sqlite", "path", opts.SQLitePath)
		return OpenSQLite(ctx, opts.SQLitePath)
	default:
		logger.InfoContext(ctx, "trace store: memory")
		return NewMemoryStore(), nil
	}
}

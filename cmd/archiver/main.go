// Package main is the entry point for the LetterDrop outbox archiver.
//
// The archiver is a one-shot job (run from cron or a scheduled task) that
// exports terminal outbox tasks older than the retention window to
// gzip-compressed NDJSON files and deletes the exported rows.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"letterdrop/internal/archive"
	"letterdrop/internal/config"
	"letterdrop/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("letterdrop archiver starting",
		"environment", cfg.Environment,
		"retention_days", cfg.Archive.RetentionDays,
		"dir", cfg.Archive.Dir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	store := db.NewStore(pool, logger)
	defer store.Close()

	archiver := archive.New(archive.Config{
		Outbox:    store.Outbox(),
		Logger:    logger,
		Dir:       cfg.Archive.Dir,
		Retention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
		BatchSize: cfg.Archive.BatchSize,
	})

	result, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}

	logger.Info("archive run complete",
		"tasks_archived", result.TasksArchived,
		"tasks_deleted", result.TasksDeleted,
		"file", result.FilePath,
	)
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

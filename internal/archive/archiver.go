// Package archive exports terminal outbox tasks to compressed NDJSON files
// and prunes them from the database. Sent, failed, and dead-lettered rows
// older than the retention window are moved out of the hot table so the
// dispatch indexes stay small.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"letterdrop/internal/types"
)

const defaultBatchSize = 1000

// Config holds the dependencies and tuning for an Archiver.
type Config struct {
	Outbox types.OutboxRepository
	Clock  types.Clock
	Logger *slog.Logger

	// Dir is the directory archive files are written to.
	Dir string

	// Retention is how long terminal tasks stay in the database before
	// being archived.
	Retention time.Duration

	// BatchSize bounds how many tasks are exported and deleted per round
	// trip.
	BatchSize int
}

// Archiver moves terminal outbox tasks into gzip-compressed NDJSON files.
type Archiver struct {
	outbox    types.OutboxRepository
	clock     types.Clock
	logger    *slog.Logger
	dir       string
	retention time.Duration
	batchSize int
}

// New creates an Archiver. If Clock is nil, RealClock is used. If Logger is
// nil, slog.Default() is used. A zero BatchSize falls back to 1000.
func New(cfg Config) *Archiver {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &Archiver{
		outbox:    cfg.Outbox,
		clock:     clock,
		logger:    logger,
		dir:       cfg.Dir,
		retention: cfg.Retention,
		batchSize: batchSize,
	}
}

// Result summarizes a completed archive run.
type Result struct {
	TasksArchived int64
	TasksDeleted  int64
	FilePath      string
}

// Run archives all terminal tasks older than the retention cutoff.
//
// Tasks are exported in batches: each batch is appended to the archive file
// and flushed to disk before the corresponding rows are deleted, so a crash
// mid-run never loses task records. Re-running after a partial failure
// re-exports at most one already-flushed batch.
//
// If no tasks qualify, no file is created and an empty Result is returned.
func (a *Archiver) Run(ctx context.Context) (*Result, error) {
	cutoff := a.clock.Now().Add(-a.retention)

	first, err := a.outbox.ListTerminalBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		a.logger.Info("archive run complete, nothing to archive",
			slog.Time("cutoff", cutoff))
		return &Result{}, nil
	}

	path := filepath.Join(a.dir, fmt.Sprintf("outbox-tasks-%s.ndjson.gz",
		a.clock.Now().UTC().Format("20060102T150405Z")))

	f, err := os.Create(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to create archive file", err)
	}
	defer f.Close()

	gzw := gzip.NewWriter(f)
	enc := json.NewEncoder(gzw)

	result := &Result{FilePath: path}
	batch := first

	for len(batch) > 0 {
		if err := ctx.Err(); err != nil {
			gzw.Close()
			return result, err
		}

		ids := make([]string, 0, len(batch))
		for _, task := range batch {
			if err := enc.Encode(task); err != nil {
				gzw.Close()
				return result, types.NewAppError(types.ErrCodeInternalUnexpected,
					"failed to encode task for archive", err)
			}
			ids = append(ids, task.ID)
		}

		// Flush this batch to disk before deleting its rows.
		if err := gzw.Flush(); err != nil {
			return result, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to flush archive file", err)
		}
		if err := f.Sync(); err != nil {
			gzw.Close()
			return result, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to sync archive file", err)
		}

		deleted, err := a.outbox.DeleteByIDs(ctx, ids)
		if err != nil {
			gzw.Close()
			return result, err
		}

		result.TasksArchived += int64(len(batch))
		result.TasksDeleted += deleted

		if len(batch) < a.batchSize {
			break
		}

		batch, err = a.outbox.ListTerminalBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			gzw.Close()
			return result, err
		}
	}

	if err := gzw.Close(); err != nil {
		return result, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to finalize archive file", err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("tasks_archived", result.TasksArchived),
		slog.Int64("tasks_deleted", result.TasksDeleted),
		slog.String("file", path),
		slog.Time("cutoff", cutoff),
	)

	return result, nil
}

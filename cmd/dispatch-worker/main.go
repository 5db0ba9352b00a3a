// Package main is the entry point for the LetterDrop dispatch worker.
//
// The worker drains the newsletter outbox: it claims due tasks from
// Postgres, sends each one through the configured email provider, and
// records the outcome (sent, rescheduled with backoff, or dead-lettered).
// A companion reaper loop returns tasks abandoned by crashed workers to the
// queue once their lease expires.
//
// The polling loop and the reaper run concurrently until SIGINT or SIGTERM
// cancels the shared context.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"golang.org/x/sync/errgroup"

	"letterdrop/internal/config"
	"letterdrop/internal/db"
	"letterdrop/internal/dispatch"
	"letterdrop/internal/types"
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
	logger.Info("letterdrop dispatch worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	store := db.NewStore(pool, logger)
	defer store.Close()

	provider, err := newEmailProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating email provider: %w", err)
	}

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	worker := dispatch.NewWorker(dispatch.WorkerConfig{
		Outbox:  store.Outbox(),
		Issues:  store.Issues(),
		Sender:  provider,
		Metrics: metrics,
		Logger:  logger,
		Policy: dispatch.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.Dispatch.BaseDelay,
			MaxDelay:    cfg.Dispatch.MaxDelay,
		},
		PollInterval: cfg.Dispatch.PollInterval,
		BatchSize:    cfg.Dispatch.BatchSize,
		Concurrency:  cfg.Dispatch.Concurrency,
		SendTimeout:  cfg.Email.SendTimeout,
		LeaseTimeout: cfg.Dispatch.LeaseTimeout,
		ReapInterval: cfg.Dispatch.ReapInterval,
		From: types.EmailAddress{
			Name:    cfg.Email.FromName,
			Address: cfg.Email.FromAddress,
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return worker.RunReaper(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}

	logger.Info("dispatch worker stopped cleanly")
	return nil
}

// newMetrics builds the dispatch telemetry sink. CloudWatch emission is
// opt-in; when disabled the worker records nothing.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Metrics, error) {
	if !cfg.Metrics.Enabled {
		return dispatch.NoopMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Email.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	typedLogger := &slogAdapter{logger: logger}
	return dispatch.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.Namespace, typedLogger), nil
}

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Warn, and Error directly, but With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
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

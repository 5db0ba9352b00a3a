// Package main is the entry point for the LetterDrop API server.
//
// It loads configuration, connects to Postgres, runs pending schema
// migrations, wires the subscription and publish services onto the core
// chassis (middleware, routing, health checks), and serves HTTP until a
// shutdown signal arrives.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"letterdrop/internal/api/handlers"
	"letterdrop/internal/config"
	"letterdrop/internal/core"
	"letterdrop/internal/db"
	"letterdrop/internal/publish"
	"letterdrop/internal/subscriptions"
	"letterdrop/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("letterdrop API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	if err := db.RunMigrations(cfg.Database.URL.Unmask()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	store := db.NewStore(pool, logger)

	provider, err := newEmailProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating email provider: %w", err)
	}
	logger.Info("email provider configured", "provider", provider.Name())

	from := types.EmailAddress{
		Name:    cfg.Email.FromName,
		Address: cfg.Email.FromAddress,
	}

	subscriptionSvc := subscriptions.NewService(subscriptions.ServiceConfig{
		TxManager: store,
		Repos:     store,
		Mailer:    provider,
		Logger:    logger,
		BaseURL:   cfg.Server.BaseURL,
		From:      from,
	})

	publishSvc := publish.NewService(publish.ServiceConfig{
		TxManager: store,
		Logger:    logger,
	})

	srv, err := core.NewServer(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionSvc)
	issueHandler := handlers.NewIssueHandler(publishSvc)
	srv.RouteRegistrars = append(srv.RouteRegistrars,
		func(r chi.Router) { subscriptionHandler.RegisterRoutes(r) },
		func(r chi.Router) { issueHandler.RegisterRoutes(r) },
	)

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        store.Ping,
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Shutdown server resources (DB pool).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
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

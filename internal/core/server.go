// Package core provides the API chassis for the LetterDrop service.
// It creates a chi router and enforces cross-cutting concerns -- logging,
// panic recovery, request correlation, and error envelopes -- before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"letterdrop/internal/config"
	"letterdrop/internal/types"
)

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest records API request latency and count.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of domain routes on the router. Handler
// packages provide registrars so core does not import them.
type RouteRegistrar func(chi.Router)

// Server encapsulates all dependencies for the LetterDrop API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config  *config.Config
	Repos   types.RepositoryRegistry
	Logger  *slog.Logger
	Metrics MetricsCollector

	// HealthProbes are checked concurrently by GET /health.
	HealthProbes []HealthProbe

	// RouteRegistrars are mounted at the router root by MountRoutes.
	RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. The caller is responsible for appending RouteRegistrars and
// calling MountRoutes after construction; this separation allows tests to
// customize route registration.
func NewServer(
	cfg *config.Config,
	repos types.RepositoryRegistry,
	logger *slog.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if repos == nil {
		return nil, fmt.Errorf("repository registry must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Repos:  repos,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources, closing the
// database pool if the repository registry supports it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if closer, ok := s.Repos.(interface{ Close() }); ok {
		closer.Close()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}

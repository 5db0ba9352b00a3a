package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"letterdrop/internal/config"
	"letterdrop/internal/types"
)

// NewPool creates a pgx connection pool from the database configuration.
// Pool tuning parameters (size, lifetime, health checks) come from config so
// they can be adjusted per environment without code changes.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return pool, nil
}

// Store bundles all repositories over a single pgx pool and implements both
// types.RepositoryRegistry (pool-backed, auto-commit queries) and
// types.TransactionManager (registry re-bound to an open transaction).
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	registry
}

// registry holds the repository set bound to one DBTX. The same struct backs
// the pool-level Store and the per-transaction registry handed to RunInTx
// callbacks.
type registry struct {
	subscribers *SubscriberRepo
	issues      *IssueRepo
	outbox      *OutboxRepo
	idempotency *IdempotencyRepo
}

func newRegistry(dbtx DBTX, logger *slog.Logger) registry {
	return registry{
		subscribers: NewSubscriberRepo(dbtx, logger),
		issues:      NewIssueRepo(dbtx),
		outbox:      NewOutboxRepo(dbtx, logger),
		idempotency: NewIdempotencyRepo(dbtx),
	}
}

func (r registry) Subscribers() types.SubscriberRepository  { return r.subscribers }
func (r registry) Issues() types.IssueRepository            { return r.issues }
func (r registry) Outbox() types.OutboxRepository           { return r.outbox }
func (r registry) Idempotency() types.IdempotencyRepository { return r.idempotency }

var (
	_ types.RepositoryRegistry = (*Store)(nil)
	_ types.TransactionManager = (*Store)(nil)
)

// NewStore creates a Store over the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:     pool,
		logger:   logger,
		registry: newRegistry(pool, logger),
	}
}

// RunInTx executes fn inside a single database transaction. The registry
// passed to fn is bound to that transaction; any error (or panic) rolls the
// transaction back, a nil return commits it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repos types.RepositoryRegistry) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer func() {
		// Rollback is a no-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	txRegistry := newRegistry(tx, s.logger)
	if err := fn(ctx, txRegistry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// Ping verifies database connectivity. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "database unreachable", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Package store owns the worker's Postgres persistence: the bus archive,
// replay dedupe set, versioned context table, and job run/state records.
// Modules never write these tables; handlers get their own mod_<name>.*
// schema through the pool on the execution context.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the shared connection pool. All methods are safe for
// concurrent use; correctness under concurrency comes from row locks and
// unique constraints, not from serialization here.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open parses the DSN, opens the pool and verifies connectivity.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying pool for module execution contexts.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Package pgstore is the Postgres-backed Store: pgx/v5 over a pgxpool,
// claiming due schedules and jobs with `FOR UPDATE SKIP LOCKED` so
// multiple scheduler/worker nodes never double-fire the same entity.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres Store backend. Zero value is not usable; build
// one with New.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool mirrors the teacher's connection-pool defaults: a modest
// always-warm floor, a ceiling well under Postgres's own max_connections,
// and periodic recycling so long-lived connections don't accumulate
// planner/memory bloat.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse db config: %w", err)
	}

	cfg.MaxConns = 25
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: ping db: %w", err)
	}
	return pool, nil
}

// New wraps an already-constructed pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

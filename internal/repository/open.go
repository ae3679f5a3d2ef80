package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio-crm/backend/internal/config"
)

// Open connects to the configured store. PostgreSQL is migrated to the
// latest schema; SQLite creates its schema on open.
func Open(ctx context.Context, cfg *config.Config) (Repository, error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		store, err := OpenPostgres(ctx, cfg.PostgresDSN(), cfg.DB.MaxConns, cfg.DB.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		if err := MigratePostgres(cfg.PostgresDSN()); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.DB.Path)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
}

// OpenPostgres creates a pool and waits up to wait for the database to
// accept connections.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32, wait time.Duration) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = wait
	if err := backoff.Retry(func() error { return pool.Ping(ctx) }, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStore(pool), nil
}

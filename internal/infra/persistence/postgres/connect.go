package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebatch/orderingest/internal/infra/config"
)

const maxPingInterval = 5 * time.Second

// Connect builds a pgx pool from the database configuration and waits for
// connectivity with exponential backoff, bounded by the configured connect
// timeout. Batch hosts often come up before their database does.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	deadline := time.Now().Add(cfg.ConnectTimeout)
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxPingInterval

	for {
		pingErr := pool.Ping(ctx)
		if pingErr == nil {
			return pool, nil
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop || time.Now().Add(sleep).After(deadline) {
			pool.Close()
			return nil, fmt.Errorf("database unreachable within %s: %w", cfg.ConnectTimeout, pingErr)
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

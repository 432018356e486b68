package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbConnectTimeout    = 3 * time.Second
	dbHealthCheckPeriod = 30 * time.Second
)

// NewDBPool opens the pool shared by the identity and telemetry stores and
// checks that Postgres answers. The stores migrate their own tables.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.HealthCheckPeriod = dbHealthCheckPeriod
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = "aguardia"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PingDB reports whether Postgres answers within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}

// Package database provides the PostgreSQL connection pool and migration
// utilities, including per-tenant schema provisioning.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weftlabs/weft/pkg/config"
)

// Client wraps the pgx connection pool and retains the DSN for components
// that need dedicated connections (the NOTIFY listener) or migration runs.
type Client struct {
	pool *pgxpool.Pool
	dsn  string
	cfg  *config.DatabaseConfig
}

// New opens a connection pool, verifies connectivity, and applies embedded
// migrations when cfg.MigrateOnStart is set.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := &Client{pool: pool, dsn: cfg.DSN, cfg: cfg}

	if cfg.MigrateOnStart {
		if err := c.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return c, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// DSN returns the connection string the pool was opened with.
func (c *Client) DSN() string {
	return c.dsn
}

// Close releases all pooled connections.
func (c *Client) Close() {
	c.pool.Close()
}

// HealthStatus reports connectivity and pool statistics.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`
	TotalConns   int32  `json:"total_conns"`
	IdleConns    int32  `json:"idle_conns"`
	AcquiredCons int32  `json:"acquired_conns"`
	MaxConns     int32  `json:"max_conns"`
}

// Health checks database connectivity and returns pool statistics.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := c.pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stat := c.pool.Stat()
	return &HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start).Milliseconds(),
		TotalConns:   stat.TotalConns(),
		IdleConns:    stat.IdleConns(),
		AcquiredCons: stat.AcquiredConns(),
		MaxConns:     stat.MaxConns(),
	}, nil
}

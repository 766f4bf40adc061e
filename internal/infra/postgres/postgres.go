package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shortloop/shortloop/config"
)

const defaultDialTimeout = 5 * time.Second

// NewPool creates a pgx connection pool using the provided config and
// verifies connectivity.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if d, err := time.ParseDuration(cfg.MaxConnLifetime); err == nil && d > 0 {
		poolCfg.MaxConnLifetime = d
	}
	if d, err := time.ParseDuration(cfg.MaxConnIdleTime); err == nil && d > 0 {
		poolCfg.MaxConnIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HealthCheckPeriod); err == nil && d > 0 {
		poolCfg.HealthCheckPeriod = d
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return pool, nil
}

// ConnString builds a postgres:// connection string from config, with
// localhost defaults.
func ConnString(cfg config.PostgresConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	credentials := url.PathEscape(cfg.User)
	if cfg.Password != "" {
		credentials = fmt.Sprintf("%s:%s", credentials, url.PathEscape(cfg.Password))
	}

	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s",
		credentials,
		host,
		port,
		url.PathEscape(cfg.Database),
		sslMode,
	)
}

// Package db stores IPC events in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// PoolSettings sizes the event log pool. The log is written from error paths
// only, so the defaults are small. A zero StatementTimeout leaves the server
// default.
type PoolSettings struct {
	MaxConns         int32
	MinConns         int32
	ApplicationName  string
	StatementTimeout time.Duration
}

// DefaultPoolSettings returns the settings used by the ipc-host binary.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConns:         8,
		MinConns:         1,
		ApplicationName:  "ipc-bridge",
		StatementTimeout: 5 * time.Second,
	}
}

// ParsePoolConfig parses databaseURL and applies settings. Values already
// present in the URL win over ApplicationName and StatementTimeout.
func ParsePoolConfig(databaseURL string, settings PoolSettings) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	if settings.MaxConns > 0 {
		config.MaxConns = settings.MaxConns
	}
	if settings.MinConns > 0 {
		config.MinConns = min(settings.MinConns, config.MaxConns)
	}

	params := config.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok && settings.ApplicationName != "" {
		params["application_name"] = settings.ApplicationName
	}
	if _, ok := params["statement_timeout"]; !ok && settings.StatementTimeout > 0 {
		params["statement_timeout"] = fmt.Sprintf("%d", settings.StatementTimeout.Milliseconds())
	}
	return config, nil
}

// NewPool creates a pgx connection pool from the given database URL and
// verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, settings PoolSettings) (*pgxpool.Pool, error) {
	config, err := ParsePoolConfig(databaseURL, settings)
	if err != nil {
		return nil, err
	}

	slog.Info(fmt.Sprintf("%s - Connecting to database %s@%s/%s (max %d conns)",
		logPrefix, config.ConnConfig.User, config.ConnConfig.Host, config.ConnConfig.Database, config.MaxConns))

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

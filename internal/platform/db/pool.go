package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChangeFeedSetting is the session setting the change-feed trigger reads to
// pick its NOTIFY channel.
const ChangeFeedSetting = "clinic.change_feed_channel"

// PoolOptions configures the shared connection pool.
type PoolOptions struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	ApplicationName   string
	ChangeFeedChannel string
}

func NewPool(ctx context.Context, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func poolConfig(opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	cfg.HealthCheckPeriod = 30 * time.Second
	if opts.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}
	// Every session writes with this set, so the trigger notifies the same
	// channel the listener is on.
	if opts.ChangeFeedChannel != "" {
		cfg.ConnConfig.RuntimeParams[ChangeFeedSetting] = opts.ChangeFeedChannel
	}
	return cfg, nil
}

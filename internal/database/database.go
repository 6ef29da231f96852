// Package database opens the Postgres pool behind the shared credential backend.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultApplicationName = "go-session-client"
	defaultPingTimeout     = 5 * time.Second
)

// Options configures the credential pool. Zero values fall back to pgx defaults.
type Options struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ApplicationName string
	PingTimeout     time.Duration
	Logger          *slog.Logger
}

type DB struct {
	Pool *pgxpool.Pool
	log  *slog.Logger
}

func New(ctx context.Context, opts Options) (*DB, error) {
	cfg, err := poolConfig(opts)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "database")

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping credential database %s/%s: %w", cfg.ConnConfig.Host, cfg.ConnConfig.Database, err)
	}

	// Host and database only: the URL may carry a password.
	log.Info("credential database connected",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
	)
	return &DB{Pool: pool, log: log}, nil
}

func poolConfig(opts Options) (*pgxpool.Config, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres credential backend")
	}

	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("min conns %d exceeds max conns %d", opts.MinConns, cfg.MaxConns)
	}
	cfg.MinConns = opts.MinConns
	cfg.MaxConnIdleTime = time.Minute
	cfg.MaxConnLifetime = 15 * time.Minute

	name := opts.ApplicationName
	if name == "" {
		name = defaultApplicationName
	}
	if _, set := cfg.ConnConfig.RuntimeParams["application_name"]; !set {
		cfg.ConnConfig.RuntimeParams["application_name"] = name
	}

	return cfg, nil
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

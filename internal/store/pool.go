package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions mirrors the pool-sizing knobs read from Config.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	AcquireTimeout  time.Duration
	MaxConnIdleTime time.Duration
}

func newPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns >= 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	// AcquireTimeout has no pgxpool-level config field; pgxpool bounds an
	// acquire by the context passed to the call that triggers it, so
	// Store applies it per-call instead (see Store.withTimeout).
	return pgxpool.NewWithConfig(ctx, cfg)
}

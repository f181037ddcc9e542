// Package db constructs the shared PostgreSQL connection pool.
//
// The platform runs behind an external pooler in transaction-pooling mode: a
// physical connection is bound to one transaction at a time and is reused by an
// unrelated caller the moment the transaction ends. Nothing in this process may
// attach state to a connection outside an explicit transaction; that contract
// is enforced by the scope package, this one only configures the pool.
package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolerModeTransaction is the only pooler mode the scoping layer is safe under.
const PoolerModeTransaction = "transaction"

type Config struct {
	DSN string `conf:"dsn" yaml:"dsn" json:"dsn"`

	// PoolerMode documents the mode of the external pooler in front of the
	// database. Anything other than "transaction" is rejected at startup:
	// session pooling would hide leaks until production, statement pooling
	// breaks transactions outright.
	PoolerMode string `conf:"pooler_mode" yaml:"pooler_mode" json:"pooler_mode"`

	// MaxConns caps client-facing connections held by this process.
	MaxConns int32 `conf:"max_conns" yaml:"max_conns" json:"max_conns"`
	// MinConns keeps warm connections for latency-sensitive paths.
	MinConns int32 `conf:"min_conns" yaml:"min_conns" json:"min_conns"`

	// MaxConnLifetime bounds connection age so credential and key rotation
	// take effect without a restart.
	MaxConnLifetime time.Duration `conf:"max_conn_lifetime" yaml:"max_conn_lifetime" json:"max_conn_lifetime"`

	// StatementTimeout is applied server-side to every statement.
	StatementTimeout time.Duration `conf:"statement_timeout" yaml:"statement_timeout" json:"statement_timeout"`
}

// Validate checks the pool configuration.
func (cfg Config) Validate() error {
	if cfg.DSN == "" {
		return fmt.Errorf("db: dsn cannot be empty")
	}

	if cfg.PoolerMode != "" && cfg.PoolerMode != PoolerModeTransaction {
		return fmt.Errorf("db: pooler mode must be %q, got %q", PoolerModeTransaction, cfg.PoolerMode)
	}

	if cfg.MaxConns < 0 || cfg.MinConns < 0 {
		return fmt.Errorf("db: connection counts cannot be negative")
	}

	if cfg.MinConns > cfg.MaxConns && cfg.MaxConns != 0 {
		return fmt.Errorf("db: min_conns %d exceeds max_conns %d", cfg.MinConns, cfg.MaxConns)
	}

	return nil
}

// NewPool creates the pgx connection pool from cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: failed to parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	if cfg.StatementTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: failed to ping database: %w", err)
	}

	return pool, nil
}

// Package postgres provides Postgres-backed persistence: the product mirror
// and the crawl run history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool used by this package. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the product and run tables when missing.
func EnsureSchema(ctx context.Context, pool Pool, productTable string) error {
	if !validTableName.MatchString(productTable) {
		return fmt.Errorf("invalid table name %q", productTable)
	}
	ddl := []string{
		fmt.Sprintf(productTableDDL, productTable),
		runTableDDL,
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const productTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
	code                      TEXT PRIMARY KEY,
	name                      TEXT NOT NULL,
	brand                     TEXT NOT NULL,
	url                       TEXT NOT NULL,
	country                   TEXT,
	color                     TEXT,
	keywords                  TEXT[],
	price                     DOUBLE PRECISION NOT NULL,
	currency                  TEXT NOT NULL,
	size                      TEXT NOT NULL,
	volume_liters             DOUBLE PRECISION NOT NULL,
	abv                       DOUBLE PRECISION NOT NULL,
	sugar_grams_per_liter     DOUBLE PRECISION NOT NULL,
	price_per_liter           DOUBLE PRECISION,
	alcohol_per_currency_unit DOUBLE PRECISION,
	expired                   BOOLEAN NOT NULL,
	fetched_at                TIMESTAMPTZ NOT NULL,
	document                  JSONB NOT NULL
)`

const runTableDDL = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	resume        BOOLEAN NOT NULL,
	total         INTEGER NOT NULL,
	saved         BIGINT NOT NULL DEFAULT 0,
	skipped       BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	records       INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	updated_at    TIMESTAMPTZ NOT NULL
)`

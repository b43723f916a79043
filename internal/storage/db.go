// Package storage is the Postgres-backed persistence layer for the
// trading core's five document collections: bot_config, trades,
// bot_candles, memory_entries (one table for every agent, keyed by an
// agent column), collective_memory. Grounded on internal/database/db.go's pgxpool
// connection-pool setup and internal/database/repository.go's raw-SQL,
// JSONB-for-map-fields CRUD idiom, scoped down from the teacher's
// multi-tenant/billing schema to exactly the collections SPEC_FULL.md
// names. No multi-document transaction is assumed anywhere in this
// package, per §5's shared-resource policy - every write is a single
// statement.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the connection pool shared by every store in this package.
type DB struct {
	Pool *pgxpool.Pool
}

// Open connects to Postgres using dsn, applying the pool sizing the
// teacher's db.go used.
func Open(ctx context.Context, dsn string, maxConns int32) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Migrate creates every table this package's stores need, idempotently.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			bot_id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			timeframe TEXT NOT NULL,
			trading_mode TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			started_by TEXT,
			autonomous BOOLEAN NOT NULL DEFAULT FALSE,
			stopped_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			execution_price DOUBLE PRECISION NOT NULL,
			quote_qty DOUBLE PRECISION NOT NULL,
			strategy TEXT NOT NULL,
			trading_mode TEXT NOT NULL,
			exit_reason TEXT,
			decision_price DOUBLE PRECISION,
			decision_ts TIMESTAMPTZ,
			execution_ts TIMESTAMPTZ NOT NULL,
			slippage_abs DOUBLE PRECISION,
			slippage_pct DOUBLE PRECISION,
			delay_seconds DOUBLE PRECISION,
			confidence DOUBLE PRECISION,
			indicators JSONB,
			pnl_abs DOUBLE PRECISION,
			pnl_pct DOUBLE PRECISION,
			position_entry_price DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_bot_ts ON trades (bot_id, execution_ts)`,
		`CREATE TABLE IF NOT EXISTS bot_candles (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			phase TEXT NOT NULL,
			candles JSONB NOT NULL,
			count INT NOT NULL,
			trade_id TEXT,
			buy_trade_id TEXT,
			sell_trade_id TEXT,
			position_status TEXT,
			start_ts TIMESTAMPTZ,
			end_ts TIMESTAMPTZ,
			updated_ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_candles_bot_updated ON bot_candles (bot_id, updated_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_candles_trade_phase ON bot_candles (trade_id, phase)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_candles_bot_phase_status ON bot_candles (bot_id, phase, position_status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_bot_candles_pretrade ON bot_candles (bot_id, symbol, timeframe) WHERE phase = 'pre_trade'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_bot_candles_during ON bot_candles (buy_trade_id) WHERE phase = 'during_trade'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_bot_candles_post ON bot_candles (trade_id) WHERE phase = 'post_trade'`,
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_agent_type_ts ON memory_entries (agent, type, ts)`,
		`CREATE TABLE IF NOT EXISTS collective_memory (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			ts TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

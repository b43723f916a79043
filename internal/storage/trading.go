package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"cyphertrade/internal/position"
)

// TradingStore persists BotConfig and Trade records.
type TradingStore struct {
	db *DB
}

// NewTradingStore builds a TradingStore.
func NewTradingStore(db *DB) *TradingStore { return &TradingStore{db: db} }

// SaveBotConfig inserts a new bot_config row. BotConfig is immutable after
// creation except for StoppedAt, so this is insert-only.
func (s *TradingStore) SaveBotConfig(ctx context.Context, c position.BotConfig) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO bot_config (bot_id, strategy, symbol, amount, timeframe, trading_mode, started_at, started_by, autonomous)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.BotID, c.Strategy, c.Symbol, c.Amount, c.Timeframe, string(c.TradingMode), c.StartedAt, nullString(c.StartedBy), c.Autonomous)
	return err
}

// StopBotConfig stamps stopped_at on an existing config.
func (s *TradingStore) StopBotConfig(ctx context.Context, botID string, stoppedAt time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `UPDATE bot_config SET stopped_at = $1 WHERE bot_id = $2`, stoppedAt, botID)
	return err
}

// GetBotConfig loads one bot's config.
func (s *TradingStore) GetBotConfig(ctx context.Context, botID string) (*position.BotConfig, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT bot_id, strategy, symbol, amount, timeframe, trading_mode, started_at, started_by, autonomous, stopped_at
		FROM bot_config WHERE bot_id = $1
	`, botID)
	c, err := scanBotConfig(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListAutonomousRunning returns configs for bots marked autonomous with no stopped_at.
func (s *TradingStore) ListAutonomousRunning(ctx context.Context) ([]position.BotConfig, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT bot_id, strategy, symbol, amount, timeframe, trading_mode, started_at, started_by, autonomous, stopped_at
		FROM bot_config WHERE autonomous = TRUE AND stopped_at IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []position.BotConfig
	for rows.Next() {
		c, err := scanBotConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

func scanBotConfig(row pgx.Row) (*position.BotConfig, error) {
	var c position.BotConfig
	var startedBy *string
	var mode string
	if err := row.Scan(&c.BotID, &c.Strategy, &c.Symbol, &c.Amount, &c.Timeframe, &mode,
		&c.StartedAt, &startedBy, &c.Autonomous, &c.StoppedAt); err != nil {
		return nil, err
	}
	c.TradingMode = position.TradingMode(mode)
	if startedBy != nil {
		c.StartedBy = *startedBy
	}
	return &c, nil
}

// SaveTrade inserts an immutable trade record.
func (s *TradingStore) SaveTrade(ctx context.Context, t position.Trade) error {
	indicatorsJSON, err := json.Marshal(t.Indicators)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO trades (id, bot_id, symbol, side, quantity, execution_price, quote_qty, strategy, trading_mode,
			exit_reason, decision_price, decision_ts, execution_ts, slippage_abs, slippage_pct, delay_seconds,
			confidence, indicators, pnl_abs, pnl_pct, position_entry_price)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, t.ID, t.BotID, t.Symbol, t.Side, t.Quantity, t.ExecutionPrice, t.QuoteQty, t.Strategy, string(t.TradingMode),
		nullString(string(t.ExitReason)), t.DecisionPrice, t.DecisionTS, t.ExecutionTS, t.SlippageAbs, t.SlippagePct,
		t.DelaySeconds, t.Confidence, indicatorsJSON, t.PnLAbs, t.PnLPct, t.PositionEntryPrice)
	return err
}

// NetSpent returns Σ BUY.quote_qty − Σ SELL.quote_qty for a bot, the
// budget-gate accounting basis.
func (s *TradingStore) NetSpent(ctx context.Context, botID string) (float64, error) {
	var buys, sells float64
	row := s.db.Pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(quote_qty) FILTER (WHERE side = 'BUY'), 0),
			COALESCE(SUM(quote_qty) FILTER (WHERE side = 'SELL'), 0)
		FROM trades WHERE bot_id = $1
	`, botID)
	if err := row.Scan(&buys, &sells); err != nil {
		return 0, err
	}
	return position.NetSpent(buys, sells), nil
}

// TradeHistory returns trades across all bots, optionally filtered by symbol, most recent first.
func (s *TradingStore) TradeHistory(ctx context.Context, symbol string, limit int) ([]position.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, bot_id, symbol, side, quantity, execution_price, quote_qty, strategy, trading_mode,
			exit_reason, decision_price, decision_ts, execution_ts, slippage_abs, slippage_pct, delay_seconds,
			confidence, indicators, pnl_abs, pnl_pct, position_entry_price
		FROM trades
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY execution_ts DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []position.Trade
	for rows.Next() {
		var t position.Trade
		var exitReason *string
		var mode string
		var indicatorsRaw []byte
		if err := rows.Scan(&t.ID, &t.BotID, &t.Symbol, &t.Side, &t.Quantity, &t.ExecutionPrice, &t.QuoteQty,
			&t.Strategy, &mode, &exitReason, &t.DecisionPrice, &t.DecisionTS, &t.ExecutionTS, &t.SlippageAbs,
			&t.SlippagePct, &t.DelaySeconds, &t.Confidence, &indicatorsRaw, &t.PnLAbs, &t.PnLPct, &t.PositionEntryPrice); err != nil {
			return nil, err
		}
		t.TradingMode = position.TradingMode(mode)
		if exitReason != nil {
			t.ExitReason = position.ExitReason(*exitReason)
		}
		if len(indicatorsRaw) > 0 {
			_ = json.Unmarshal(indicatorsRaw, &t.Indicators)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cyphertrade/internal/candletrack"
)

// CandleStore implements candletrack.Store against bot_candles.
type CandleStore struct {
	db *DB
}

// NewCandleStore builds a CandleStore.
func NewCandleStore(db *DB) *CandleStore { return &CandleStore{db: db} }

func encodeCandles(candles []candletrack.Candle) ([]byte, error) {
	return json.Marshal(candles)
}

func decodeCandles(raw []byte) ([]candletrack.Candle, error) {
	var candles []candletrack.Candle
	if len(raw) == 0 {
		return candles, nil
	}
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// UpsertPreTrade writes or replaces the (bot, symbol, timeframe) pre_trade
// window, matched by the unique partial index on phase='pre_trade'.
func (s *CandleStore) UpsertPreTrade(ctx context.Context, w candletrack.Window) error {
	candlesJSON, err := encodeCandles(w.Candles)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO bot_candles (id, bot_id, symbol, timeframe, phase, candles, count, start_ts, end_ts, updated_ts)
		VALUES ($1, $2, $3, $4, 'pre_trade', $5, $6, $7, $8, $9)
		ON CONFLICT (bot_id, symbol, timeframe) WHERE phase = 'pre_trade'
		DO UPDATE SET candles = EXCLUDED.candles, count = EXCLUDED.count,
			start_ts = EXCLUDED.start_ts, end_ts = EXCLUDED.end_ts, updated_ts = EXCLUDED.updated_ts
	`, uuid.NewString(), w.BotID, w.Symbol, w.Timeframe, candlesJSON, w.Count, w.StartTS, w.EndTS, w.UpdatedTS)
	return err
}

// InsertWindow inserts a new during_trade or post_trade window.
func (s *CandleStore) InsertWindow(ctx context.Context, w candletrack.Window) error {
	candlesJSON, err := encodeCandles(w.Candles)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO bot_candles (id, bot_id, symbol, timeframe, phase, candles, count,
			trade_id, buy_trade_id, sell_trade_id, position_status, start_ts, end_ts, updated_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, uuid.NewString(), w.BotID, w.Symbol, w.Timeframe, string(w.Phase), candlesJSON, w.Count,
		nullString(w.TradeID), nullString(w.BuyTradeID), nullString(w.SellTradeID), nullString(string(w.PositionStatus)),
		w.StartTS, w.EndTS, w.UpdatedTS)
	return err
}

// GetOpenPositionWindow returns a bot's one open during_trade window, if any.
func (s *CandleStore) GetOpenPositionWindow(ctx context.Context, botID string) (*candletrack.Window, bool, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT bot_id, symbol, timeframe, candles, count, trade_id, buy_trade_id, sell_trade_id,
			position_status, start_ts, end_ts, updated_ts
		FROM bot_candles
		WHERE bot_id = $1 AND phase = 'during_trade' AND position_status = 'open'
	`, botID)
	w, err := scanWindow(row, candletrack.PhaseDuringTrade)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get open position window: %w", err)
	}
	return w, true, nil
}

// GetPostTradeWindow returns the post_trade window for a trade, if any.
func (s *CandleStore) GetPostTradeWindow(ctx context.Context, tradeID string) (*candletrack.Window, bool, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT bot_id, symbol, timeframe, candles, count, trade_id, buy_trade_id, sell_trade_id,
			position_status, start_ts, end_ts, updated_ts
		FROM bot_candles
		WHERE trade_id = $1 AND phase = 'post_trade'
	`, tradeID)
	w, err := scanWindow(row, candletrack.PhasePostTrade)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get post_trade window: %w", err)
	}
	return w, true, nil
}

// UpdateWindow rewrites a window's mutable fields (candles/count/status/end_ts/updated_ts).
func (s *CandleStore) UpdateWindow(ctx context.Context, w candletrack.Window) error {
	candlesJSON, err := encodeCandles(w.Candles)
	if err != nil {
		return err
	}
	var err2 error
	switch w.Phase {
	case candletrack.PhaseDuringTrade:
		_, err2 = s.db.Pool.Exec(ctx, `
			UPDATE bot_candles SET candles = $1, count = $2, sell_trade_id = $3, position_status = $4, end_ts = $5, updated_ts = $6
			WHERE bot_id = $7 AND phase = 'during_trade' AND buy_trade_id = $8
		`, candlesJSON, w.Count, nullString(w.SellTradeID), string(w.PositionStatus), w.EndTS, w.UpdatedTS, w.BotID, w.BuyTradeID)
	case candletrack.PhasePostTrade:
		_, err2 = s.db.Pool.Exec(ctx, `
			UPDATE bot_candles SET candles = $1, count = $2, end_ts = $3, updated_ts = $4
			WHERE trade_id = $5 AND phase = 'post_trade'
		`, candlesJSON, w.Count, w.EndTS, w.UpdatedTS, w.TradeID)
	default:
		_, err2 = s.db.Pool.Exec(ctx, `
			UPDATE bot_candles SET candles = $1, count = $2, end_ts = $3, updated_ts = $4
			WHERE bot_id = $5 AND symbol = $6 AND timeframe = $7 AND phase = 'pre_trade'
		`, candlesJSON, w.Count, w.EndTS, w.UpdatedTS, w.BotID, w.Symbol, w.Timeframe)
	}
	return err2
}

// QueryByBot returns windows for a bot filtered by phase and optionally symbol/timeframe.
func (s *CandleStore) QueryByBot(ctx context.Context, botID string, phase candletrack.Phase, symbol, timeframe string) ([]candletrack.Window, error) {
	query := `
		SELECT bot_id, symbol, timeframe, candles, count, trade_id, buy_trade_id, sell_trade_id,
			position_status, start_ts, end_ts, updated_ts
		FROM bot_candles
		WHERE bot_id = $1 AND phase = $2`
	args := []interface{}{botID, string(phase)}
	if symbol != "" {
		args = append(args, symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if timeframe != "" {
		args = append(args, timeframe)
		query += fmt.Sprintf(" AND timeframe = $%d", len(args))
	}
	query += " ORDER BY updated_ts DESC"

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query by bot: %w", err)
	}
	defer rows.Close()

	var windows []candletrack.Window
	for rows.Next() {
		w, err := scanWindow(rows, phase)
		if err != nil {
			return nil, err
		}
		windows = append(windows, *w)
	}
	return windows, rows.Err()
}

// QueryByTrade returns the window for a specific trade and phase.
func (s *CandleStore) QueryByTrade(ctx context.Context, tradeID string, phase candletrack.Phase) (*candletrack.Window, bool, error) {
	var row pgx.Row
	if phase == candletrack.PhaseDuringTrade {
		row = s.db.Pool.QueryRow(ctx, `
			SELECT bot_id, symbol, timeframe, candles, count, trade_id, buy_trade_id, sell_trade_id,
				position_status, start_ts, end_ts, updated_ts
			FROM bot_candles WHERE buy_trade_id = $1 AND phase = $2
		`, tradeID, string(phase))
	} else {
		row = s.db.Pool.QueryRow(ctx, `
			SELECT bot_id, symbol, timeframe, candles, count, trade_id, buy_trade_id, sell_trade_id,
				position_status, start_ts, end_ts, updated_ts
			FROM bot_candles WHERE trade_id = $1 AND phase = $2
		`, tradeID, string(phase))
	}
	w, err := scanWindow(row, phase)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

// DeleteOlderThan removes windows whose updated_ts predates cutoff.
func (s *CandleStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM bot_candles WHERE updated_ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWindow(row rowScanner, phase candletrack.Phase) (*candletrack.Window, error) {
	var w candletrack.Window
	var candlesRaw []byte
	var tradeID, buyTradeID, sellTradeID, status *string

	if err := row.Scan(&w.BotID, &w.Symbol, &w.Timeframe, &candlesRaw, &w.Count,
		&tradeID, &buyTradeID, &sellTradeID, &status, &w.StartTS, &w.EndTS, &w.UpdatedTS); err != nil {
		return nil, err
	}

	candles, err := decodeCandles(candlesRaw)
	if err != nil {
		return nil, err
	}
	w.Candles = candles
	w.Phase = phase
	if tradeID != nil {
		w.TradeID = *tradeID
	}
	if buyTradeID != nil {
		w.BuyTradeID = *buyTradeID
	}
	if sellTradeID != nil {
		w.SellTradeID = *sellTradeID
	}
	if status != nil {
		w.PositionStatus = candletrack.PositionStatus(*status)
	}
	return &w, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Package candletrack captures three phase-keyed candle windows per
// bot/trade - pre_trade, during_trade, post_trade - for offline learning,
// continuously enough that a later analysis can reconstruct exactly what
// the market looked like around a trade decision.
package candletrack

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"cyphertrade/internal/exchange"
)

const (
	// PreTradeCandles is the window size kept before every trade decision.
	PreTradeCandles = 200
	// PostTradeCandles is the window grown after a SELL for learning.
	PostTradeCandles = 200
	// DefaultRetentionDays matches the source system's cleanup sweep.
	DefaultRetentionDays = 30
)

// Phase is which leg of a trade's lifecycle a window belongs to.
type Phase string

const (
	PhasePreTrade   Phase = "pre_trade"
	PhaseDuringTrade Phase = "during_trade"
	PhasePostTrade  Phase = "post_trade"
)

// PositionStatus tags a during_trade window's lifecycle.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Candle is the persisted shape of one OHLCV bar inside a window.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Window is a CandleWindow document as described in the data model: a
// phase-keyed, deduplicated, strictly-time-ordered candle series.
type Window struct {
	BotID          string
	Symbol         string
	Timeframe      string
	Phase          Phase
	Candles        []Candle
	Count          int
	TradeID        string
	BuyTradeID     string
	SellTradeID    string
	PositionStatus PositionStatus
	StartTS        time.Time
	EndTS          time.Time
	UpdatedTS      time.Time
}

// Store is the persistence contract candle-tracker needs; internal/storage
// implements it against Postgres. Keeping it here (not in internal/storage)
// lets this package stay the owner of the CandleWindow invariants.
type Store interface {
	UpsertPreTrade(ctx context.Context, w Window) error
	InsertWindow(ctx context.Context, w Window) error
	GetOpenPositionWindow(ctx context.Context, botID string) (*Window, bool, error)
	GetPostTradeWindow(ctx context.Context, tradeID string) (*Window, bool, error)
	UpdateWindow(ctx context.Context, w Window) error
	QueryByBot(ctx context.Context, botID string, phase Phase, symbol, timeframe string) ([]Window, error)
	QueryByTrade(ctx context.Context, tradeID string, phase Phase) (*Window, bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Tracker drives the pre/during/post-trade candle capture lifecycle.
type Tracker struct {
	store   Store
	gateway exchange.Gateway
	logger  zerolog.Logger
}

// New builds a Tracker. logger should already be scoped (e.g.
// logger.With().Str("component", "candletrack").Logger()) by the caller.
func New(store Store, gateway exchange.Gateway, logger zerolog.Logger) *Tracker {
	return &Tracker{store: store, gateway: gateway, logger: logger}
}

// TrackPreTrade fetches the latest candles and upserts the pre_trade window
// for (bot, symbol, timeframe). Best-effort: callers log failure and
// continue the tick rather than treat it as fatal.
func (t *Tracker) TrackPreTrade(ctx context.Context, botID, symbol, timeframe string) error {
	klines, err := t.gateway.Klines(ctx, symbol, timeframe, PreTradeCandles)
	if err != nil {
		return fmt.Errorf("candletrack: fetch klines: %w", err)
	}
	if len(klines) < 10 {
		return fmt.Errorf("candletrack: insufficient candles for %s (%d < 10)", symbol, len(klines))
	}

	candles := fromKlines(klines)
	now := time.Now().UTC()

	w := Window{
		BotID:     botID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Phase:     PhasePreTrade,
		Candles:   candles,
		Count:     len(candles),
		StartTS:   candles[0].Timestamp,
		EndTS:     candles[len(candles)-1].Timestamp,
		UpdatedTS: now,
	}

	if err := t.store.UpsertPreTrade(ctx, w); err != nil {
		return fmt.Errorf("candletrack: upsert pre_trade: %w", err)
	}

	t.logger.Info().Str("bot_id", botID).Str("symbol", symbol).Int("count", len(candles)).Msg("pre-trade candles updated")
	return nil
}

// StartPositionTracking opens a during_trade window right after a BUY fills.
// A bot has at most one open during_trade window at a time.
func (t *Tracker) StartPositionTracking(ctx context.Context, botID, symbol, timeframe, buyTradeID string) error {
	now := time.Now().UTC()
	w := Window{
		BotID:          botID,
		Symbol:         symbol,
		Timeframe:      timeframe,
		Phase:          PhaseDuringTrade,
		Candles:        []Candle{},
		Count:          0,
		BuyTradeID:     buyTradeID,
		PositionStatus: PositionOpen,
		StartTS:        now,
		UpdatedTS:      now,
	}
	if err := t.store.InsertWindow(ctx, w); err != nil {
		return fmt.Errorf("candletrack: start position tracking: %w", err)
	}
	t.logger.Info().Str("bot_id", botID).Str("buy_trade_id", buyTradeID).Msg("position tracking started")
	return nil
}

// UpdatePositionTracking appends any new candles (strictly after the
// window's start) to a bot's open during_trade window. Unbounded count.
func (t *Tracker) UpdatePositionTracking(ctx context.Context, botID string) error {
	win, ok, err := t.store.GetOpenPositionWindow(ctx, botID)
	if err != nil {
		return fmt.Errorf("candletrack: load open position window: %w", err)
	}
	if !ok {
		return fmt.Errorf("candletrack: no open position window for bot %s", botID)
	}

	klines, err := t.gateway.Klines(ctx, win.Symbol, win.Timeframe, 100)
	if err != nil {
		return fmt.Errorf("candletrack: fetch klines: %w", err)
	}

	merged := mergeCandles(win.Candles, fromKlines(klines), win.StartTS)
	win.Candles = merged
	win.Count = len(merged)
	if len(merged) > 0 {
		win.EndTS = merged[len(merged)-1].Timestamp
	}
	win.UpdatedTS = time.Now().UTC()

	if err := t.store.UpdateWindow(ctx, *win); err != nil {
		return fmt.Errorf("candletrack: update position window: %w", err)
	}
	return nil
}

// StopPositionTracking flips a bot's open during_trade window to closed,
// stamping the sell trade id. Exactly one transition per window.
func (t *Tracker) StopPositionTracking(ctx context.Context, botID, sellTradeID string) error {
	win, ok, err := t.store.GetOpenPositionWindow(ctx, botID)
	if err != nil {
		return fmt.Errorf("candletrack: load open position window: %w", err)
	}
	if !ok {
		return fmt.Errorf("candletrack: no open position window for bot %s", botID)
	}

	win.PositionStatus = PositionClosed
	win.SellTradeID = sellTradeID
	win.EndTS = time.Now().UTC()
	win.UpdatedTS = win.EndTS

	if err := t.store.UpdateWindow(ctx, *win); err != nil {
		return fmt.Errorf("candletrack: stop position tracking: %w", err)
	}
	t.logger.Info().Str("bot_id", botID).Str("sell_trade_id", sellTradeID).Int("count", win.Count).Msg("position tracking stopped")
	return nil
}

// StartPostTrade opens a post_trade window targeting PostTradeCandles,
// keyed by trade_id, capturing everything strictly after the SELL.
func (t *Tracker) StartPostTrade(ctx context.Context, botID, symbol, timeframe, tradeID string) error {
	now := time.Now().UTC()
	w := Window{
		BotID:     botID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Phase:     PhasePostTrade,
		Candles:   []Candle{},
		Count:     0,
		TradeID:   tradeID,
		StartTS:   now,
		UpdatedTS: now,
	}
	if err := t.store.InsertWindow(ctx, w); err != nil {
		return fmt.Errorf("candletrack: start post trade: %w", err)
	}
	t.logger.Info().Str("trade_id", tradeID).Msg("post-trade tracking started")
	return nil
}

// UpdatePostTrade appends candles strictly after the window's start_ts,
// finishing once count reaches PostTradeCandles.
func (t *Tracker) UpdatePostTrade(ctx context.Context, tradeID string) (completed bool, err error) {
	win, ok, err := t.store.GetPostTradeWindow(ctx, tradeID)
	if err != nil {
		return false, fmt.Errorf("candletrack: load post_trade window: %w", err)
	}
	if !ok {
		return false, fmt.Errorf("candletrack: no post_trade window for trade %s", tradeID)
	}

	if win.Count >= PostTradeCandles {
		return true, nil
	}

	needed := PostTradeCandles - win.Count
	limit := needed + 10
	if limit > 250 {
		limit = 250
	}

	klines, err := t.gateway.Klines(ctx, win.Symbol, win.Timeframe, limit)
	if err != nil {
		return false, fmt.Errorf("candletrack: fetch klines: %w", err)
	}

	merged := mergeCandles(win.Candles, fromKlines(klines), win.StartTS)
	if len(merged) > PostTradeCandles {
		merged = merged[:PostTradeCandles]
	}

	win.Candles = merged
	win.Count = len(merged)
	if len(merged) > 0 {
		win.EndTS = merged[len(merged)-1].Timestamp
	}
	win.UpdatedTS = time.Now().UTC()

	if err := t.store.UpdateWindow(ctx, *win); err != nil {
		return false, fmt.Errorf("candletrack: update post_trade window: %w", err)
	}

	completed = win.Count >= PostTradeCandles
	if completed {
		t.logger.Info().Str("trade_id", tradeID).Int("count", win.Count).Msg("post-trade tracking completed")
	}
	return completed, nil
}

// GetCandles is the read-side query for a bot's windows, optionally
// filtered by symbol/timeframe.
func (t *Tracker) GetCandles(ctx context.Context, botID string, phase Phase, symbol, timeframe string) ([]Window, error) {
	return t.store.QueryByBot(ctx, botID, phase, symbol, timeframe)
}

// GetTradeCandles is the read-side query for a specific trade's window.
func (t *Tracker) GetTradeCandles(ctx context.Context, tradeID string, phase Phase) (*Window, bool, error) {
	return t.store.QueryByTrade(ctx, tradeID, phase)
}

// Cleanup deletes windows whose updated_ts is older than days (default 30).
func (t *Tracker) Cleanup(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := t.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("candletrack: cleanup: %w", err)
	}
	t.logger.Info().Int("deleted", deleted).Int("retention_days", days).Msg("candle tracking cleanup")
	return deleted, nil
}

func fromKlines(klines []exchange.Kline) []Candle {
	candles := make([]Candle, len(klines))
	for i, k := range klines {
		candles[i] = Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		}
	}
	return candles
}

// mergeCandles combines existing candles with freshly fetched ones, keeping
// only those strictly after windowStart, deduping by timestamp, and
// returning them sorted ascending - the invariant every window must hold.
func mergeCandles(existing []Candle, fetched []Candle, windowStart time.Time) []Candle {
	seen := make(map[int64]struct{}, len(existing))
	merged := make([]Candle, 0, len(existing)+len(fetched))

	for _, c := range existing {
		seen[c.Timestamp.UnixMilli()] = struct{}{}
		merged = append(merged, c)
	}

	for _, c := range fetched {
		key := c.Timestamp.UnixMilli()
		if _, ok := seen[key]; ok {
			continue
		}
		if !c.Timestamp.After(windowStart) {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, c)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
	return merged
}

// Package botrun is the Bot Runtime (C6): one cooperative goroutine per
// bot running fetch -> phase -> strategy -> guards -> execute -> learn ->
// sleep every tick. Grounded on the teacher's internal/bot/bot.go ticker +
// select + WaitGroup cooperative-loop idiom, generalized from its ad hoc
// stop-loss/take-profit limit orders to the spec's exact state machine
// and close-guard chain.
package botrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cyphertrade/internal/candletrack"
	"cyphertrade/internal/events"
	"cyphertrade/internal/exchange"
	"cyphertrade/internal/marketcache"
	"cyphertrade/internal/marketphase"
	"cyphertrade/internal/memory"
	"cyphertrade/internal/position"
	"cyphertrade/internal/strategy"
)

const (
	// Tick is the nominal period between strategy evaluations.
	Tick = 300 * time.Second
	// ErrorRetry is the shortened sleep after an unhandled tick error.
	ErrorRetry = 60 * time.Second

	exchangeTimeout = 10 * time.Second
	klinesTimeout   = 20 * time.Second

	historicalContextLookback = 100
)

// historicalTimeframes is the fixed set the one-shot historical context
// analysis runs across on Start.
var historicalTimeframes = []string{"5m", "15m", "1h", "4h", "1d"}

// Store is the persistence contract the runtime writes trades and bot
// config through.
type Store interface {
	SaveBotConfig(ctx context.Context, c position.BotConfig) error
	StopBotConfig(ctx context.Context, botID string, stoppedAt time.Time) error
	SaveTrade(ctx context.Context, t position.Trade) error
	NetSpent(ctx context.Context, botID string) (float64, error)
}

// Bot is one running instance of the bot runtime: a single symbol,
// strategy, position, budget, and candle-window set.
type Bot struct {
	Config position.BotConfig

	gateway   exchange.Gateway
	priceCache *marketcache.Cache
	tracker   *candletrack.Tracker
	learning  *memory.Learning
	bus       *events.Bus
	store     Store
	strat     strategy.Strategy
	riskCfg   position.Config
	logger    zerolog.Logger

	mu       sync.RWMutex
	pos      position.Position
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	activeDuringTrade string // buy_trade_id of the in-flight during_trade window, if any
	activePostTrade   string // trade_id of the in-flight post_trade window, if any
}

// Deps bundles the shared collaborators every bot needs; the bot manager
// constructs one set and passes it to every New call.
type Deps struct {
	Gateway    exchange.Gateway
	PriceCache *marketcache.Cache
	Tracker    *candletrack.Tracker
	Learning   *memory.Learning
	Bus        *events.Bus
	Store      Store
	RiskConfig position.Config
	Logger     zerolog.Logger
}

// New constructs a Bot for the given config. It does not start the tick
// loop; call Start for that.
func New(cfg position.BotConfig, deps Deps) (*Bot, error) {
	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("botrun: %w", err)
	}
	return &Bot{
		Config:     cfg,
		gateway:    deps.Gateway,
		priceCache: deps.PriceCache,
		tracker:    deps.Tracker,
		learning:   deps.Learning,
		bus:        deps.Bus,
		store:      deps.Store,
		strat:      strat,
		riskCfg:    deps.RiskConfig,
		logger:     deps.Logger.With().Str("bot_id", cfg.BotID).Logger(),
		pos:        position.NewPosition(),
	}, nil
}

// Validate checks the startup preconditions: timeframe is one of the
// fixed set, testnet forbids MARGIN/FUTURES, and the symbol is tradable.
func Validate(ctx context.Context, cfg position.BotConfig, gateway exchange.Gateway, testnet bool) error {
	if !position.AllowedTimeframes[cfg.Timeframe] {
		return fmt.Errorf("botrun: invalid timeframe %q", cfg.Timeframe)
	}
	if testnet && (cfg.TradingMode == position.ModeMargin || cfg.TradingMode == position.ModeFutures) {
		return fmt.Errorf("botrun: testnet forbids trading mode %s", cfg.TradingMode)
	}
	tctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	ok, reason, err := gateway.IsTradable(tctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("botrun: check tradability: %w", err)
	}
	if !ok {
		return fmt.Errorf("botrun: symbol %s not tradable: %s", cfg.Symbol, reason)
	}
	return nil
}

// Start persists the config, runs the one-shot historical context
// analysis, and launches the tick loop. It does not validate the config;
// callers run Validate first.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("botrun: bot %s already running", b.Config.BotID)
	}
	b.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	if err := b.store.SaveBotConfig(ctx, b.Config); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("botrun: persist config: %w", err)
	}

	b.runHistoricalContextAnalysis(ctx)

	b.wg.Add(1)
	go b.loop(runCtx)

	b.bus.Publish(events.Event{Kind: events.KindBotStarted, BotID: b.Config.BotID, Data: map[string]interface{}{
		"symbol": b.Config.Symbol, "strategy": b.Config.Strategy, "autonomous": b.Config.Autonomous,
	}})
	return nil
}

// Stop cancels the tick loop and waits for it to exit, then stamps
// stopped_at. Observes cancellation within one tick, per §5.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	cancel := b.cancel
	b.running = false
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	now := time.Now().UTC()
	b.Config.StoppedAt = &now
	if err := b.store.StopBotConfig(ctx, b.Config.BotID, now); err != nil {
		b.logger.Warn().Err(err).Msg("failed to persist stopped_at")
	}
	b.bus.Publish(events.Event{Kind: events.KindBotStopped, BotID: b.Config.BotID, Data: map[string]interface{}{}})
	return nil
}

// IsRunning reports whether the tick loop is active.
func (b *Bot) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Position returns a snapshot of the bot's current position.
func (b *Bot) Position() position.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pos
}

func (b *Bot) loop(ctx context.Context) {
	defer b.wg.Done()
	timer := time.NewTimer(Tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		sleep := Tick
		if err := b.tick(ctx); err != nil {
			b.logger.Error().Err(err).Msg("tick failed")
			b.bus.Publish(events.Event{Kind: events.KindLogMessage, BotID: b.Config.BotID, Data: map[string]interface{}{
				"level": "error", "message": err.Error(),
			}})
			sleep = ErrorRetry
		}

		timer.Reset(sleep)
	}
}

// tick runs the §4.C6 eight-step sequence once.
func (b *Bot) tick(ctx context.Context) error {
	klineCtx, cancel := context.WithTimeout(ctx, klinesTimeout)
	klines, err := b.gateway.Klines(klineCtx, b.Config.Symbol, b.Config.Timeframe, 100)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}

	if err := b.tracker.TrackPreTrade(ctx, b.Config.BotID, b.Config.Symbol, b.Config.Timeframe); err != nil {
		b.logger.Warn().Err(err).Msg("pre-trade candle tracking failed (best-effort)")
	}

	phaseResult := marketphase.Analyze(klines, 20)

	priceCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	currentPrice, err := b.priceCache.Get(priceCtx, b.Config.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch current price: %w", err)
	}

	signal, err := b.strat.Evaluate(klines, currentPrice)
	if err != nil {
		return fmt.Errorf("evaluate strategy: %w", err)
	}

	decisionPrice := currentPrice
	decisionTS := time.Now().UTC()

	b.mu.Lock()
	pos := position.UpdateHighWaterMark(b.pos, currentPrice)
	b.pos = pos
	b.mu.Unlock()

	if pos.IsOpen() {
		if err := b.evaluateClose(ctx, pos, currentPrice, decisionPrice, decisionTS, signal); err != nil {
			return err
		}
		pos = b.Position()
	}

	if b.activeDuringTrade != "" {
		if err := b.tracker.UpdatePositionTracking(ctx, b.Config.BotID); err != nil {
			b.logger.Warn().Err(err).Msg("during-trade candle update failed (best-effort)")
		}
	}
	if b.activePostTrade != "" {
		completed, err := b.tracker.UpdatePostTrade(ctx, b.activePostTrade)
		if err != nil {
			b.logger.Warn().Err(err).Msg("post-trade candle update failed (best-effort)")
		} else if completed {
			b.activePostTrade = ""
		}
	}

	if !pos.IsOpen() && signal.Signal != strategy.SignalHold && signal.Confidence >= b.riskCfg.SignalMinConfidence {
		if err := b.evaluateOpen(ctx, signal, currentPrice, decisionPrice, decisionTS, phaseResult); err != nil {
			return err
		}
	}

	b.bus.Publish(events.Event{Kind: events.KindStatusUpdate, BotID: b.Config.BotID, Data: map[string]interface{}{
		"symbol": b.Config.Symbol, "phase": phaseResult.Phase, "signal": signal.Signal, "confidence": signal.Confidence,
		"price": currentPrice,
	}})
	return nil
}

func (b *Bot) evaluateClose(ctx context.Context, pos position.Position, currentPrice, decisionPrice float64, decisionTS time.Time, signal *strategy.Signal) error {
	closeOnSignal := (pos.Side == position.SideLong && signal.Signal == strategy.SignalSell) ||
		(pos.Side == position.SideShort && signal.Signal == strategy.SignalBuy)

	decision := position.EvaluateCloseGuards(b.riskCfg, pos, currentPrice, decisionTS)
	if !decision.Allow {
		if closeOnSignal {
			b.logger.Info().Str("reason", decision.Reason).Msg("close blocked by guard")
		}
		return nil
	}
	if decision.ExitReason == position.ExitSignal && !closeOnSignal {
		// A plain signal-exit only fires alongside an actual opposing
		// signal; stop-loss and trailing take-profit fire regardless.
		return nil
	}

	return b.executeClose(ctx, pos, decision, currentPrice, decisionPrice, decisionTS, b.Config.Strategy)
}

func (b *Bot) executeClose(ctx context.Context, pos position.Position, decision position.CloseDecision, currentPrice, decisionPrice float64, decisionTS time.Time, strategyTag string) error {
	decision, ok := position.ReEvaluateAtExecution(pos, decision, currentPrice)
	if !ok {
		b.logger.Info().Msg("trailing take-profit aborted on re-read")
		return nil
	}

	side := "SELL"
	if pos.Side == position.SideShort {
		side = "BUY"
	}

	orderCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	order, err := b.gateway.PlaceOrder(orderCtx, b.Config.Symbol, side, pos.Size, exchange.TradingMode(b.Config.TradingMode))
	cancel()
	if err != nil {
		return fmt.Errorf("place close order: %w", err)
	}

	execPrice, ok := position.DeriveExecutionPrice(order)
	if !ok {
		execPrice, ok = b.retryExecutionPrice(ctx, order)
	}
	if !ok {
		b.cancelOrder(ctx, order)
		b.bus.Publish(events.Event{Kind: events.KindLogMessage, BotID: b.Config.BotID, Data: map[string]interface{}{
			"level": "error", "message": "execution price unavailable, trade rejected",
		}})
		return nil
	}

	pnlAbs, pnlPct, finalReason := position.ClosePnL(b.riskCfg, pos, execPrice, decision.ExitReason)
	if strategyTag == "manual" {
		finalReason = position.ExitManual
	}

	trade := position.NewTrade(b.Config.BotID, b.Config.Symbol, side, pos.Size, execPrice, decisionPrice, decisionTS, time.Now().UTC())
	trade.ID = uuid.NewString()
	trade.Strategy = strategyTag
	trade.TradingMode = b.Config.TradingMode
	trade.ExitReason = finalReason
	trade.PnLAbs = pnlAbs
	trade.PnLPct = pnlPct
	trade.PositionEntryPrice = pos.EntryPrice
	if order != nil && order.CummulativeQuoteQty > 0 {
		trade.QuoteQty = order.CummulativeQuoteQty
	}

	b.mu.Lock()
	b.pos = position.NewPosition()
	b.mu.Unlock()

	if err := b.store.SaveTrade(ctx, trade); err != nil {
		b.logger.Error().Err(err).Msg("persist closing trade failed; will reconcile from exchange next tick")
	}

	if b.activeDuringTrade != "" {
		if err := b.tracker.StopPositionTracking(ctx, b.Config.BotID, trade.ID); err != nil {
			b.logger.Warn().Err(err).Msg("stop position tracking failed")
		}
		b.activeDuringTrade = ""
	}
	if err := b.tracker.StartPostTrade(ctx, b.Config.BotID, b.Config.Symbol, b.Config.Timeframe, trade.ID); err != nil {
		b.logger.Warn().Err(err).Msg("start post-trade tracking failed")
	} else {
		b.activePostTrade = trade.ID
	}

	if err := b.learning.RecordTradeOutcome(ctx, trade, nil); err != nil {
		b.logger.Warn().Err(err).Msg("record trade outcome failed")
	}

	b.bus.Publish(events.Event{Kind: events.KindTradeExecuted, BotID: b.Config.BotID, Data: map[string]interface{}{
		"trade_id": trade.ID, "side": side, "execution_price": execPrice, "pnl_pct": pnlPct, "exit_reason": finalReason,
	}})
	return nil
}

func (b *Bot) evaluateOpen(ctx context.Context, signal *strategy.Signal, currentPrice, decisionPrice float64, decisionTS time.Time, phase marketphase.Result) error {
	wantsLong := signal.Signal == strategy.SignalBuy
	if !wantsLong && b.Config.TradingMode == position.ModeSpot {
		return nil // SPOT cannot enter SHORT
	}

	tctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	tradable, reason, err := b.gateway.IsTradable(tctx, b.Config.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("check tradability: %w", err)
	}

	netSpent, err := b.store.NetSpent(ctx, b.Config.BotID)
	if err != nil {
		return fmt.Errorf("compute net spent: %w", err)
	}

	fctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	filters, err := b.gateway.SymbolFilters(fctx, b.Config.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch symbol filters: %w", err)
	}

	remainingBudget := b.Config.Amount - netSpent
	bctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	quoteBalance, err := b.gateway.Balance(bctx, quoteAsset(b.Config.Symbol), exchange.TradingMode(b.Config.TradingMode))
	cancel()
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}

	remaining := remainingBudget
	if quoteBalance < remaining {
		remaining = quoteBalance
	}

	qty, ok := exchange.OptimalBuyQuantity(filters, remainingBudget, currentPrice, remaining)
	if !ok || qty <= 0 {
		b.logger.Info().Msg("order filtered out: below lot size or min notional, or budget exhausted")
		return nil
	}

	decision := position.EvaluateOpenGuards(b.riskCfg, position.OpenGuardInput{
		Confidence:      signal.Confidence,
		Tradable:        tradable,
		TradableReason:  reason,
		NetSpent:        netSpent,
		BudgetCap:       b.Config.Amount,
		OrderValueQuote: qty * currentPrice,
		RemainingQuote:  remaining,
	})
	if !decision.Allow {
		b.logger.Info().Str("reason", decision.Reason).Msg("open blocked by guard")
		return nil
	}

	side := "BUY"
	if !wantsLong {
		side = "SELL"
	}

	orderCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	order, err := b.gateway.PlaceOrder(orderCtx, b.Config.Symbol, side, qty, exchange.TradingMode(b.Config.TradingMode))
	cancel()
	if err != nil {
		return fmt.Errorf("place open order: %w", err)
	}

	execPrice, ok := position.DeriveExecutionPrice(order)
	if !ok {
		execPrice, ok = b.retryExecutionPrice(ctx, order)
	}
	if !ok {
		b.cancelOrder(ctx, order)
		b.bus.Publish(events.Event{Kind: events.KindLogMessage, BotID: b.Config.BotID, Data: map[string]interface{}{
			"level": "error", "message": "execution price unavailable, trade rejected",
		}})
		return nil
	}

	b.mu.Lock()
	if wantsLong {
		b.pos = position.ApplyBuy(b.pos, qty, execPrice, time.Now().UTC())
	} else {
		b.pos = position.ApplySell(execPrice, qty, time.Now().UTC())
	}
	b.mu.Unlock()

	trade := position.NewTrade(b.Config.BotID, b.Config.Symbol, side, qty, execPrice, decisionPrice, decisionTS, time.Now().UTC())
	trade.ID = uuid.NewString()
	trade.Strategy = b.Config.Strategy
	if signal.Reason == "manual" {
		trade.Strategy = "manual"
	}
	trade.TradingMode = b.Config.TradingMode
	trade.Confidence = signal.Confidence
	trade.Indicators = signal.Indicators
	if order != nil && order.CummulativeQuoteQty > 0 {
		trade.QuoteQty = order.CummulativeQuoteQty
	}

	if err := b.store.SaveTrade(ctx, trade); err != nil {
		b.logger.Error().Err(err).Msg("persist opening trade failed; will reconcile from exchange next tick")
	}

	if err := b.tracker.StartPositionTracking(ctx, b.Config.BotID, b.Config.Symbol, b.Config.Timeframe, trade.ID); err != nil {
		b.logger.Warn().Err(err).Msg("start position tracking failed")
	} else {
		b.activeDuringTrade = trade.ID
	}

	b.bus.Publish(events.Event{Kind: events.KindTradeExecuted, BotID: b.Config.BotID, Data: map[string]interface{}{
		"trade_id": trade.ID, "side": side, "execution_price": execPrice, "phase": phase.Phase,
	}})
	return nil
}

// ExecuteManualTrade runs the same guardrails as an automated signal but
// tags the resulting trade strategy="manual" (and a closing trade
// exit_reason=MANUAL). quantity is not used: with a position open the
// whole position is closed, and an opening trade is sized from the
// remaining budget and quote balance exactly as for an automated signal.
func (b *Bot) ExecuteManualTrade(ctx context.Context, side string, quantity float64) error {
	pctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	currentPrice, err := b.priceCache.Get(pctx, b.Config.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch current price: %w", err)
	}

	pos := b.Position()
	now := time.Now().UTC()

	if pos.IsOpen() {
		decision := position.EvaluateCloseGuards(b.riskCfg, pos, currentPrice, now)
		if !decision.Allow {
			return fmt.Errorf("botrun: manual close blocked: %s", decision.Reason)
		}
		return b.executeClose(ctx, pos, decision, currentPrice, currentPrice, now, "manual")
	}

	sig := &strategy.Signal{Signal: strategy.SignalBuy, Confidence: 1.0, Reason: "manual", Indicators: map[string]float64{}}
	if side == "SELL" {
		sig.Signal = strategy.SignalSell
	}
	return b.evaluateOpen(ctx, sig, currentPrice, currentPrice, now, marketphase.Result{Phase: marketphase.PhaseUnknown})
}

func (b *Bot) retryExecutionPrice(ctx context.Context, order *exchange.OrderResponse) (float64, bool) {
	if order == nil {
		return 0, false
	}
	sctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	refreshed, err := b.gateway.OrderStatus(sctx, b.Config.Symbol, order.OrderId, exchange.TradingMode(b.Config.TradingMode))
	cancel()
	if err != nil {
		return 0, false
	}
	return position.DeriveExecutionPrice(refreshed)
}

func (b *Bot) cancelOrder(ctx context.Context, order *exchange.OrderResponse) {
	if order == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	if err := b.gateway.CancelOrder(cctx, b.Config.Symbol, order.OrderId); err != nil {
		b.logger.Warn().Err(err).Msg("cancel order failed")
	}
}

// runHistoricalContextAnalysis is the one-shot, multi-timeframe signal
// tally run on Start, pushed to Memory as a "what does the chart look
// like across frames" briefing for the decision agent.
func (b *Bot) runHistoricalContextAnalysis(ctx context.Context) {
	tally := map[string]int{"BUY": 0, "SELL": 0, "HOLD": 0}
	for _, tf := range historicalTimeframes {
		kctx, cancel := context.WithTimeout(ctx, klinesTimeout)
		klines, err := b.gateway.Klines(kctx, b.Config.Symbol, tf, historicalContextLookback)
		cancel()
		if err != nil {
			b.logger.Warn().Err(err).Str("timeframe", tf).Msg("historical context fetch failed")
			continue
		}
		if len(klines) == 0 {
			continue
		}
		sig, err := b.strat.Evaluate(klines, klines[len(klines)-1].Close)
		if err != nil {
			continue
		}
		tally[string(sig.Signal)]++
	}

	if b.learning == nil {
		return
	}
	content := fmt.Sprintf("Historical context for %s (%s): BUY=%d SELL=%d HOLD=%d across %v",
		b.Config.Symbol, b.Config.Strategy, tally["BUY"], tally["SELL"], tally["HOLD"], historicalTimeframes)
	if err := b.learning.Record(ctx, memory.Entry{
		Agent:   "decision",
		Type:    "historical_context",
		Content: content,
		Metadata: map[string]interface{}{
			"bot_id": b.Config.BotID, "symbol": b.Config.Symbol, "tally": tally,
		},
	}); err != nil {
		b.logger.Warn().Err(err).Msg("failed to record historical context")
	}
}

// quoteAsset returns "USDT" for every symbol, on the live and the mock
// gateway alike. It does not derive the quote asset from exchange symbol
// metadata and does not read config.TradingConfig.QuoteCurrency, so a
// pair quoted in another asset is checked against the USDT balance. It
// never strips suffixes off the symbol.
func quoteAsset(symbol string) string {
	return "USDT"
}

// Package botmgr is the Bot Manager (C7): owns every running Bot, wires
// the shared collaborators (gateway, price cache, candle tracker, memory,
// event bus, store) into each one, and enforces the process-wide
// MAX_AUTONOMOUS_BOTS cap. Grounded on the teacher's internal/bot.go
// BotManager map-of-bots-plus-mutex pattern, generalized to the new
// botrun.Bot runtime.
package botmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cyphertrade/internal/botrun"
	"cyphertrade/internal/candletrack"
	"cyphertrade/internal/events"
	"cyphertrade/internal/exchange"
	"cyphertrade/internal/marketcache"
	"cyphertrade/internal/memory"
	"cyphertrade/internal/position"
)

// MaxAutonomousBots is the spec's hard cap on concurrently running
// autonomous bots; manually started bots are never counted against it.
const MaxAutonomousBots = 2

// Store is the persistence surface the manager needs beyond what it hands
// to individual bots, namely the autonomy-cap count check across restarts.
type Store interface {
	botrun.Store
	ListAutonomousRunning(ctx context.Context) ([]position.BotConfig, error)
}

// Manager owns the set of running bots.
type Manager struct {
	gateway    exchange.Gateway
	priceCache *marketcache.Cache
	tracker    *candletrack.Tracker
	learning   *memory.Learning
	bus        *events.Bus
	store      Store
	riskCfg    position.Config
	logger     zerolog.Logger

	testnet bool

	mu   sync.RWMutex
	bots map[string]*botrun.Bot
}

// New builds a Manager. testnet gates MARGIN/FUTURES bot starts per §4.C6.
func New(gateway exchange.Gateway, priceCache *marketcache.Cache, tracker *candletrack.Tracker,
	learning *memory.Learning, bus *events.Bus, store Store, riskCfg position.Config, logger zerolog.Logger, testnet bool) *Manager {
	return &Manager{
		gateway:    gateway,
		priceCache: priceCache,
		tracker:    tracker,
		learning:   learning,
		bus:        bus,
		store:      store,
		riskCfg:    riskCfg,
		logger:     logger,
		testnet:    testnet,
		bots:       make(map[string]*botrun.Bot),
	}
}

// StartRequest is the validated input to StartBot.
type StartRequest struct {
	Strategy    string
	Symbol      string
	Amount      float64
	Timeframe   string
	TradingMode position.TradingMode
	StartedBy   string // "" for manual, "DECISION_AGENT" for autonomous
	Autonomous  bool
}

// StartBot validates, builds, registers, and starts a new bot. If
// Autonomous is set, the MAX_AUTONOMOUS_BOTS cap is enforced first.
func (m *Manager) StartBot(ctx context.Context, req StartRequest) (*botrun.Bot, error) {
	if req.Autonomous {
		if err := m.checkAutonomyCap(ctx); err != nil {
			return nil, err
		}
	}

	cfg := position.BotConfig{
		BotID:       uuid.NewString(),
		Strategy:    req.Strategy,
		Symbol:      req.Symbol,
		Amount:      req.Amount,
		Timeframe:   req.Timeframe,
		TradingMode: req.TradingMode,
		StartedAt:   time.Now().UTC(),
		StartedBy:   req.StartedBy,
		Autonomous:  req.Autonomous,
	}

	if err := botrun.Validate(ctx, cfg, m.gateway, m.testnet); err != nil {
		m.bus.Publish(events.Event{Kind: events.KindBotStartFailed, Data: map[string]interface{}{
			"symbol": cfg.Symbol, "reason": err.Error(),
		}})
		return nil, err
	}

	bot, err := botrun.New(cfg, botrun.Deps{
		Gateway:    m.gateway,
		PriceCache: m.priceCache,
		Tracker:    m.tracker,
		Learning:   m.learning,
		Bus:        m.bus,
		Store:      m.store,
		RiskConfig: m.riskCfg,
		Logger:     m.logger,
	})
	if err != nil {
		return nil, err
	}

	if err := bot.Start(ctx); err != nil {
		m.bus.Publish(events.Event{Kind: events.KindBotStartFailed, BotID: cfg.BotID, Data: map[string]interface{}{
			"symbol": cfg.Symbol, "reason": err.Error(),
		}})
		return nil, err
	}

	m.mu.Lock()
	m.bots[cfg.BotID] = bot
	m.mu.Unlock()

	return bot, nil
}

// checkAutonomyCap counts both in-process autonomous bots and any
// persisted-as-running autonomous bots this process hasn't loaded yet
// (e.g. immediately after a restart, before reconciliation), so the cap
// holds even across a supervisor crash/restart.
func (m *Manager) checkAutonomyCap(ctx context.Context) error {
	running, err := m.store.ListAutonomousRunning(ctx)
	if err != nil {
		return fmt.Errorf("botmgr: check autonomy cap: %w", err)
	}
	if len(running) >= MaxAutonomousBots {
		return fmt.Errorf("botmgr: autonomy cap reached (%d/%d running)", len(running), MaxAutonomousBots)
	}
	return nil
}

// GetBot returns a running bot by id.
func (m *Manager) GetBot(botID string) (*botrun.Bot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[botID]
	return b, ok
}

// AllBots returns every bot this manager currently tracks, running or
// stopped, keyed by id.
func (m *Manager) AllBots() map[string]*botrun.Bot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*botrun.Bot, len(m.bots))
	for k, v := range m.bots {
		out[k] = v
	}
	return out
}

// Status summarizes one tracked bot's current position and running
// state - the shape the status API endpoint serializes directly.
type Status struct {
	BotID     string
	Symbol    string
	Strategy  string
	Running   bool
	Position  position.Position
	StartedAt time.Time
}

// StatusAll returns a Status snapshot for every tracked bot.
func (m *Manager) StatusAll() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.bots))
	for _, b := range m.bots {
		out = append(out, Status{
			BotID:     b.Config.BotID,
			Symbol:    b.Config.Symbol,
			Strategy:  b.Config.Strategy,
			Running:   b.IsRunning(),
			Position:  b.Position(),
			StartedAt: b.Config.StartedAt,
		})
	}
	return out
}

// StopBot stops a running bot in place; it remains registered (and
// queryable) until RemoveBot is called.
func (m *Manager) StopBot(ctx context.Context, botID string) error {
	m.mu.RLock()
	b, ok := m.bots[botID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("botmgr: bot %s not found", botID)
	}
	return b.Stop(ctx)
}

// RemoveBot unregisters a bot, refusing while it is still running.
func (m *Manager) RemoveBot(botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("botmgr: bot %s not found", botID)
	}
	if b.IsRunning() {
		return fmt.Errorf("botmgr: bot %s is still running, stop it first", botID)
	}
	delete(m.bots, botID)
	return nil
}

// AutonomousCount reports how many currently-tracked bots are both
// autonomous and running, for the supervisor's autonomy-cap checks.
func (m *Manager) AutonomousCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bots {
		if b.Config.Autonomous && b.IsRunning() {
			n++
		}
	}
	return n
}

// AutonomousBudgets returns the Amount of every currently running
// autonomous bot, for the supervisor's average-budget formula.
func (m *Manager) AutonomousBudgets() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []float64
	for _, b := range m.bots {
		if b.Config.Autonomous && b.IsRunning() {
			out = append(out, b.Config.Amount)
		}
	}
	return out
}

// ExecuteManualTrade routes a manual trade request to the named bot.
func (m *Manager) ExecuteManualTrade(ctx context.Context, botID, side string, quantity float64) error {
	b, ok := m.GetBot(botID)
	if !ok {
		return fmt.Errorf("botmgr: bot %s not found", botID)
	}
	return b.ExecuteManualTrade(ctx, side, quantity)
}

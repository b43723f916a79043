// Package supervisor is the Autonomous Supervisor (C8): two independent
// periodic loops (news, analysis) that call out to a decision agent
// through typed entry points, and the bounded start_autonomous_bot spawn
// contract the decision agent drives. Grounded on the teacher's
// internal/continuous scan-loop ticker pattern, generalized to the
// spec's news/analysis period split and budget formula; the agent itself
// is an external collaborator (see SPEC_FULL.md §9) - this package only
// supplies the typed surface it calls through.
package supervisor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cyphertrade/internal/botmgr"
	"cyphertrade/internal/events"
	"cyphertrade/internal/exchange"
	"cyphertrade/internal/position"
)

const (
	// NewsLoopPeriod is the cadence of the news-triggered scan.
	NewsLoopPeriod = 1800 * time.Second
	// AnalysisLoopPeriod is the cadence of the periodic opportunity scan.
	AnalysisLoopPeriod = 3600 * time.Second

	// newsImportanceThreshold is the provider-defined score an item must
	// clear before it is fanned out to the decision agent.
	newsImportanceThreshold = 0.6
	// analysisScoreThreshold is the score a scan candidate must clear
	// before the decision agent is expected to call StartAutonomousBot.
	analysisScoreThreshold = 0.4

	// defaultAvgBudget is used when no autonomous bot is currently running.
	defaultAvgBudget = 100.0
	// minBudget floors the computed autonomous-bot budget.
	minBudget = 10.0
	// maxBudgetBalanceFraction caps the computed budget at this fraction
	// of the available quote balance.
	maxBudgetBalanceFraction = 0.4

	quoteAsset = "USDT" // fixed; config.TradingConfig.QuoteCurrency is not read here
)

// NewsItem is one article/headline fetched from the news collaborator.
type NewsItem struct {
	Title   string
	Content string
	Score   float64 // provider-defined importance, [0,1]
}

// NewsProvider is the external news collaborator's contract.
type NewsProvider interface {
	Fetch(ctx context.Context) ([]NewsItem, error)
}

// Candidate is a scored opportunity the decision agent wants to act on.
type Candidate struct {
	Symbol   string
	Strategy string
	Score    float64
}

// StartResult mirrors what the decision agent's tool call sees back.
type StartResult struct {
	Success bool
	BotID   string
	Error   string
}

// AutonomousAPI is the typed entry point the decision agent calls to
// spawn a bot; budget is computed internally, never passed in.
type AutonomousAPI interface {
	StartAutonomousBot(ctx context.Context, c Candidate) (StartResult, error)
}

// DecisionAgent is the external LLM-backed collaborator's contract: the
// supervisor activates it on each loop tick rather than the reverse.
type DecisionAgent interface {
	OnNews(ctx context.Context, important []NewsItem) error
	OnAnalysisTick(ctx context.Context, api AutonomousAPI) error
}

// Supervisor runs the news and analysis loops and implements AutonomousAPI.
type Supervisor struct {
	news    NewsProvider
	agent   DecisionAgent
	gateway exchange.Gateway
	bots    *botmgr.Manager
	bus     *events.Bus
	logger  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a Supervisor. agent may be nil, in which case both loops
// still run but skip the decision-agent hand-off - useful for running the
// rest of the stack before the agent wrapper is wired up. news may also be
// nil, in which case the news loop's ticks do nothing.
func New(news NewsProvider, agent DecisionAgent, gateway exchange.Gateway, bots *botmgr.Manager, bus *events.Bus, logger zerolog.Logger) *Supervisor {
	return &Supervisor{news: news, agent: agent, gateway: gateway, bots: bots, bus: bus, logger: logger}
}

// Start launches both loops. Each loop owns a context derived from the
// one passed here, cancelled deterministically on Stop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runLoop(runCtx, "news", NewsLoopPeriod, s.newsTick)
	go s.runLoop(runCtx, "analysis", AnalysisLoopPeriod, s.analysisTick)
}

// Stop cancels both loops and waits for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// runLoop is shared by both loops: run one tick immediately's-successor
// at each period, isolating tick failures so one bad iteration never
// kills the loop - only Stop does.
func (s *Supervisor) runLoop(ctx context.Context, name string, period time.Duration, tick func(context.Context) error) {
	defer s.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := tick(ctx); err != nil {
			s.logger.Error().Err(err).Str("loop", name).Msg("supervisor loop tick failed")
			s.bus.LogMessage("", "error", fmt.Sprintf("%s loop: %v", name, err))
		}
	}
}

func (s *Supervisor) newsTick(ctx context.Context) error {
	if s.news == nil {
		return nil
	}
	items, err := s.news.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch news: %w", err)
	}

	important := make([]NewsItem, 0, len(items))
	for _, it := range items {
		if it.Score >= newsImportanceThreshold {
			important = append(important, it)
		}
	}
	if len(important) == 0 {
		return nil
	}

	for _, it := range important {
		s.bus.Publish(events.Event{Kind: events.KindNewsShared, Data: map[string]interface{}{
			"title": it.Title, "score": it.Score,
		}})
	}

	if s.agent == nil {
		return nil
	}
	if err := s.agent.OnNews(ctx, important); err != nil {
		return fmt.Errorf("decision agent OnNews: %w", err)
	}
	return nil
}

func (s *Supervisor) analysisTick(ctx context.Context) error {
	if s.bots.AutonomousCount() >= botmgr.MaxAutonomousBots {
		return nil
	}
	if s.gateway == nil {
		return nil
	}
	if s.agent == nil {
		return nil
	}
	if err := s.agent.OnAnalysisTick(ctx, s); err != nil {
		return fmt.Errorf("decision agent OnAnalysisTick: %w", err)
	}
	return nil
}

// StartAutonomousBot implements AutonomousAPI: validates the autonomy
// cap, computes the budget, and starts the bot with
// started_by=DECISION_AGENT, autonomous=true.
func (s *Supervisor) StartAutonomousBot(ctx context.Context, c Candidate) (StartResult, error) {
	if c.Score < analysisScoreThreshold {
		return StartResult{Success: false, Error: "candidate score below threshold"}, nil
	}
	if s.bots.AutonomousCount() >= botmgr.MaxAutonomousBots {
		return StartResult{Success: false, Error: "autonomy cap reached"}, nil
	}

	budget, err := s.computeBudget(ctx)
	if err != nil {
		return StartResult{Success: false, Error: err.Error()}, nil
	}

	bot, err := s.bots.StartBot(ctx, botmgr.StartRequest{
		Strategy:    c.Strategy,
		Symbol:      c.Symbol,
		Amount:      budget,
		Timeframe:   "15m",
		TradingMode: position.ModeSpot,
		StartedBy:   "DECISION_AGENT",
		Autonomous:  true,
	})
	if err != nil {
		return StartResult{Success: false, Error: err.Error()}, nil
	}

	// Post-start verification: re-check the cap wasn't exceeded by a
	// concurrent spawn racing this one.
	if s.bots.AutonomousCount() > botmgr.MaxAutonomousBots {
		_ = bot.Stop(ctx)
		return StartResult{Success: false, Error: "autonomy cap exceeded by concurrent spawn, rolled back"}, nil
	}

	return StartResult{Success: true, BotID: bot.Config.BotID}, nil
}

// computeBudget implements budget = clamp(min(avg(running bot budgets,
// default 100), 0.4 * quote_balance), 10, +Inf).
func (s *Supervisor) computeBudget(ctx context.Context) (float64, error) {
	running := s.bots.AutonomousBudgets()
	avg := defaultAvgBudget
	if len(running) > 0 {
		sum := 0.0
		for _, b := range running {
			sum += b
		}
		avg = sum / float64(len(running))
	}

	bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	balance, err := s.gateway.Balance(bctx, quoteAsset, exchange.ModeSpot)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("fetch quote balance: %w", err)
	}

	budget := math.Min(avg, maxBudgetBalanceFraction*balance)
	if budget < minBudget {
		budget = minBudget
	}
	return budget, nil
}

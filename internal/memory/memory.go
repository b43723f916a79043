// Package memory is the per-agent and collective append-only learning
// store: every closed trade is classified into an outcome bucket, a
// human-readable lesson is derived from it, and both per-agent and
// collective entries are appended for later retrieval by the chat/
// decision agents. Grounded on internal/database/repository.go's
// append-style CRUD idiom, applied to the spec's memory collections.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cyphertrade/internal/position"
)

// Outcome buckets a closed trade's result for reward-signal learning.
type Outcome string

const (
	OutcomeHighSuccess    Outcome = "high_success"
	OutcomeSuccess        Outcome = "success"
	OutcomeNeutralPositive Outcome = "neutral_positive"
	OutcomeNeutral        Outcome = "neutral"
	OutcomeNeutralNegative Outcome = "neutral_negative"
	OutcomeLowProfit      Outcome = "low_profit"
	OutcomeFailure        Outcome = "failure"
)

// MinProfitLossThreshold is the absolute-PnL band used to bucket trades
// that don't already qualify as high_success or low_profit by percent.
const MinProfitLossThreshold = 1.0

// Entry is one append-only record in an agent's memory log.
type Entry struct {
	ID       string
	Agent    string
	Type     string
	Content  string
	Metadata map[string]interface{}
	Ts       time.Time
}

// CollectiveEntry is analogous to Entry but not scoped to a single agent.
type CollectiveEntry struct {
	ID       string
	Type     string
	Content  string
	Metadata map[string]interface{}
	Ts       time.Time
}

// Store is the persistence contract this package needs.
type Store interface {
	AppendEntry(ctx context.Context, e Entry) error
	AppendCollective(ctx context.Context, e CollectiveEntry) error
	QueryEntries(ctx context.Context, agent, entryType string, since time.Time, limit int) ([]Entry, error)
}

// ringSize is how many of an agent's most recent entries are kept warm in
// RAM alongside the persisted log, per the spec's "small in-RAM ring of
// the most recent N (50)".
const ringSize = 50

// Learning is the memory & learning store.
type Learning struct {
	store  Store
	logger zerolog.Logger

	ring map[string][]Entry
}

// New builds a Learning store. logger should already be scoped by the
// caller.
func New(store Store, logger zerolog.Logger) *Learning {
	return &Learning{store: store, logger: logger, ring: make(map[string][]Entry)}
}

// Record appends a memory entry for an agent, updating its in-RAM ring.
func (l *Learning) Record(ctx context.Context, e Entry) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	if err := l.store.AppendEntry(ctx, e); err != nil {
		return fmt.Errorf("memory: append entry: %w", err)
	}
	ring := l.ring[e.Agent]
	ring = append(ring, e)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	l.ring[e.Agent] = ring
	return nil
}

// RecordCollective appends a collective (not agent-scoped) memory entry.
func (l *Learning) RecordCollective(ctx context.Context, e CollectiveEntry) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	if err := l.store.AppendCollective(ctx, e); err != nil {
		return fmt.Errorf("memory: append collective: %w", err)
	}
	return nil
}

// Recent returns an agent's most recent in-RAM entries without hitting
// the store.
func (l *Learning) Recent(agent string) []Entry {
	return append([]Entry(nil), l.ring[agent]...)
}

// Query retrieves persisted entries by type and time window.
func (l *Learning) Query(ctx context.Context, agent, entryType string, since time.Time, limit int) ([]Entry, error) {
	entries, err := l.store.QueryEntries(ctx, agent, entryType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	return entries, nil
}

// ClassifyOutcome buckets a closed trade's pnl into an Outcome, per the
// spec's exact thresholds: pnl_pct>=+2.0 is a reward signal, 0<pnl_pct<1.0
// is a deliberately negative signal ("learn to respect thresholds"), and
// everything else falls back to an absolute-PnL band.
func ClassifyOutcome(pnlPct, pnlAbs float64) Outcome {
	switch {
	case pnlPct >= 2.0:
		return OutcomeHighSuccess
	case pnlPct > 0 && pnlPct < 1.0:
		return OutcomeLowProfit
	case pnlAbs >= MinProfitLossThreshold:
		return OutcomeSuccess
	case pnlAbs > 0:
		return OutcomeNeutralPositive
	case pnlAbs == 0:
		return OutcomeNeutral
	case pnlAbs > -MinProfitLossThreshold:
		return OutcomeNeutralNegative
	default:
		return OutcomeFailure
	}
}

// Lesson renders a human-readable sentence summarizing a closed trade's
// outcome, the way an agent prompt would quote it back to itself.
func Lesson(t position.Trade, outcome Outcome) string {
	switch outcome {
	case OutcomeHighSuccess:
		return fmt.Sprintf("%s on %s returned %.2f%% using %s - the entry/exit timing worked, keep using this setup.", t.Side, t.Symbol, t.PnLPct, t.Strategy)
	case OutcomeLowProfit:
		return fmt.Sprintf("%s on %s closed at only %.2f%% - likely exited before the minimum-profit threshold was fully earned; review confidence calibration for %s.", t.Side, t.Symbol, t.PnLPct, t.Strategy)
	case OutcomeFailure:
		return fmt.Sprintf("%s on %s lost %.2f%% (exit: %s) - re-examine whether %s should have generated this signal at all.", t.Side, t.Symbol, t.PnLPct, t.ExitReason, t.Strategy)
	default:
		return fmt.Sprintf("%s on %s closed at %.2f%% (exit: %s) via %s.", t.Side, t.Symbol, t.PnLPct, t.ExitReason, t.Strategy)
	}
}

// RecordTradeOutcome is the C9 entry point Bot Runtime calls right after a
// trade closes: classify outcome, derive a lesson, append both an
// agent-scoped memory entry and a collective trade_completed summary.
func (l *Learning) RecordTradeOutcome(ctx context.Context, t position.Trade, candleWindowIDs map[string]string) error {
	outcome := ClassifyOutcome(t.PnLPct, t.PnLAbs)
	lesson := Lesson(t, outcome)

	metadata := map[string]interface{}{
		"bot_id":      t.BotID,
		"symbol":      t.Symbol,
		"strategy":    t.Strategy,
		"pnl_pct":     t.PnLPct,
		"pnl_abs":     t.PnLAbs,
		"exit_reason": t.ExitReason,
		"outcome":     outcome,
	}
	for phase, id := range candleWindowIDs {
		metadata["candles_"+phase] = id
	}

	if err := l.Record(ctx, Entry{
		Agent:    "decision",
		Type:     "trade_lesson",
		Content:  lesson,
		Metadata: metadata,
	}); err != nil {
		l.logger.Warn().Err(err).Str("bot_id", t.BotID).Msg("failed to record trade lesson")
	}

	return l.RecordCollective(ctx, CollectiveEntry{
		Type:    "trade_completed",
		Content: lesson,
		Metadata: map[string]interface{}{
			"bot_id":   t.BotID,
			"symbol":   t.Symbol,
			"outcome":  outcome,
			"pnl_pct":  t.PnLPct,
			"strategy": t.Strategy,
		},
	})
}

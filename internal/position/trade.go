package position

import "time"

// TradingMode mirrors exchange.TradingMode's three string values at the
// domain layer, so callers converting between the two just cast the
// underlying string.
type TradingMode string

const (
	ModeSpot    TradingMode = "SPOT"
	ModeMargin  TradingMode = "MARGIN"
	ModeFutures TradingMode = "FUTURES"
)

// Trade is the immutable record written once a BUY or SELL executes.
// Every field the spec's invariants (§8) reference is present so tests
// can check them directly off a persisted Trade.
type Trade struct {
	ID             string
	BotID          string
	Symbol         string
	Side           string // BUY | SELL
	Quantity       float64
	ExecutionPrice float64
	QuoteQty       float64
	Strategy       string
	TradingMode    TradingMode
	ExitReason     ExitReason // empty for opening trades

	DecisionPrice float64
	DecisionTS    time.Time
	ExecutionTS   time.Time
	SlippageAbs   float64
	SlippagePct   float64
	DelaySeconds  float64
	Confidence    float64
	Indicators    map[string]float64

	// Only set for closing trades.
	PnLAbs            float64
	PnLPct            float64
	PositionEntryPrice float64
}

// NewTrade fills in the decision/execution timing and slippage fields
// shared by every trade, BUY or SELL.
func NewTrade(botID, symbol, side string, qty, executionPrice float64, decisionPrice float64, decisionTS, executionTS time.Time) Trade {
	slippageAbs := executionPrice - decisionPrice
	slippagePct := 0.0
	if decisionPrice > 0 {
		slippagePct = slippageAbs / decisionPrice * 100
	}
	return Trade{
		BotID:          botID,
		Symbol:         symbol,
		Side:           side,
		Quantity:       qty,
		ExecutionPrice: executionPrice,
		QuoteQty:       qty * executionPrice,
		DecisionPrice:  decisionPrice,
		DecisionTS:     decisionTS,
		ExecutionTS:    executionTS,
		SlippageAbs:    slippageAbs,
		SlippagePct:    slippagePct,
		DelaySeconds:   executionTS.Sub(decisionTS).Seconds(),
	}
}

// BotConfig is the immutable-after-creation configuration record for one
// bot, with a stopped_at appended on stop per the data model.
type BotConfig struct {
	BotID       string
	Strategy    string
	Symbol      string
	Amount      float64// quote-asset budget cap
	Timeframe   string
	TradingMode TradingMode
	StartedAt   time.Time
	StartedBy   string // "" (manual) | "DECISION_AGENT"
	Autonomous  bool
	StoppedAt   *time.Time
}

// AllowedTimeframes is the spec's fixed set of valid kline intervals.
var AllowedTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

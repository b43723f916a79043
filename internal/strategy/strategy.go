// Package strategy holds the pure signal-generating functions a bot
// evaluates each tick. Every strategy is stateless: given the same candle
// series and price it always returns the same signal.
package strategy

import (
	"fmt"
	"math"

	"cyphertrade/internal/exchange"
)

// SignalType is the outcome of a strategy evaluation.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Signal is what every strategy returns: a direction, a confidence in
// [0,1], the reasoning behind it, and the indicator values it was computed
// from (useful for candle-tracker/memory persistence downstream).
type Signal struct {
	Signal     SignalType
	Confidence float64
	Reason     string
	Indicators map[string]float64
}

func holdSignal(reason string) *Signal {
	return &Signal{Signal: SignalHold, Confidence: 0, Reason: reason, Indicators: map[string]float64{}}
}

// Strategy evaluates a candle series and current price into a Signal. It
// never returns an error for insufficient data - it degrades to HOLD.
type Strategy interface {
	Name() string
	Evaluate(klines []exchange.Kline, currentPrice float64) (*Signal, error)
}

// New resolves a strategy by its spec name: sma_crossover, rsi, macd,
// bollinger, combined.
func New(name string) (Strategy, error) {
	switch name {
	case "sma_crossover":
		return &SMACrossoverStrategy{}, nil
	case "rsi":
		return &RSIStrategy{}, nil
	case "macd":
		return &MACDStrategy{}, nil
	case "bollinger":
		return &BollingerStrategy{}, nil
	case "combined":
		return &CombinedStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// SMACrossoverStrategy is a fast(20)/slow(50) simple-moving-average crossover.
type SMACrossoverStrategy struct{}

func (s *SMACrossoverStrategy) Name() string { return "sma_crossover" }

func (s *SMACrossoverStrategy) Evaluate(klines []exchange.Kline, currentPrice float64) (*Signal, error) {
	const fastPeriod, slowPeriod = 20, 50
	if len(klines) < slowPeriod+1 {
		return holdSignal("insufficient data"), nil
	}

	fastPrev := CalculateSMA(klines[:len(klines)-1], fastPeriod)
	slowPrev := CalculateSMA(klines[:len(klines)-1], slowPeriod)
	fast := CalculateSMA(klines, fastPeriod)
	slow := CalculateSMA(klines, slowPeriod)

	if anyNaN(fastPrev, slowPrev, fast, slow) {
		return holdSignal("insufficient data"), nil
	}

	indicators := map[string]float64{"sma_fast": fast, "sma_slow": slow}

	crossedUp := fastPrev <= slowPrev && fast > slow
	crossedDown := fastPrev >= slowPrev && fast < slow

	confidence := math.Min(0.9, 0.6+math.Abs(fast-slow)/currentPrice*100)

	switch {
	case crossedUp:
		return &Signal{Signal: SignalBuy, Confidence: confidence, Reason: "fast SMA crossed above slow SMA", Indicators: indicators}, nil
	case crossedDown:
		return &Signal{Signal: SignalSell, Confidence: confidence, Reason: "fast SMA crossed below slow SMA", Indicators: indicators}, nil
	default:
		return &Signal{Signal: SignalHold, Confidence: 0, Reason: "no crossover", Indicators: indicators}, nil
	}
}

// RSIStrategy trades oversold/overbought crossovers of a 14-period RSI.
type RSIStrategy struct{}

func (s *RSIStrategy) Name() string { return "rsi" }

func (s *RSIStrategy) Evaluate(klines []exchange.Kline, currentPrice float64) (*Signal, error) {
	const period = 14
	const oversold, overbought = 30.0, 70.0

	if len(klines) < period+2 {
		return holdSignal("insufficient data"), nil
	}

	prev := CalculateRSI(klines[:len(klines)-1], period)
	curr := CalculateRSI(klines, period)
	if math.IsNaN(prev) || math.IsNaN(curr) {
		return holdSignal("insufficient data"), nil
	}

	indicators := map[string]float64{"rsi": curr}

	switch {
	case curr < 25:
		return &Signal{Signal: SignalBuy, Confidence: 0.85, Reason: "RSI deeply oversold (<25)", Indicators: indicators}, nil
	case prev <= oversold && curr > oversold:
		return &Signal{Signal: SignalBuy, Confidence: 0.7, Reason: "RSI crossed up through oversold", Indicators: indicators}, nil
	case curr > 75:
		return &Signal{Signal: SignalSell, Confidence: 0.85, Reason: "RSI deeply overbought (>75)", Indicators: indicators}, nil
	case prev >= overbought && curr < overbought:
		return &Signal{Signal: SignalSell, Confidence: 0.7, Reason: "RSI crossed down through overbought", Indicators: indicators}, nil
	default:
		return &Signal{Signal: SignalHold, Confidence: 0, Reason: "RSI neutral", Indicators: indicators}, nil
	}
}

// MACDStrategy trades MACD(12,26,9) line/signal crossovers.
type MACDStrategy struct{}

func (s *MACDStrategy) Name() string { return "macd" }

func (s *MACDStrategy) Evaluate(klines []exchange.Kline, currentPrice float64) (*Signal, error) {
	const fastPeriod, slowPeriod, signalPeriod = 12, 26, 9

	result := CalculateMACD(klines, fastPeriod, slowPeriod, signalPeriod)
	if result == nil {
		return holdSignal("insufficient data"), nil
	}

	indicators := map[string]float64{
		"macd":      result.MACD,
		"signal":    result.Signal,
		"histogram": result.Histogram,
	}

	crossedUp, crossedDown := macdCrossover(klines, fastPeriod, slowPeriod, signalPeriod)

	switch {
	case crossedUp:
		return &Signal{Signal: SignalBuy, Confidence: 0.75, Reason: "MACD crossed above signal line", Indicators: indicators}, nil
	case crossedDown:
		return &Signal{Signal: SignalSell, Confidence: 0.75, Reason: "MACD crossed below signal line", Indicators: indicators}, nil
	default:
		return &Signal{Signal: SignalHold, Confidence: 0, Reason: "no MACD crossover", Indicators: indicators}, nil
	}
}

// BollingerStrategy trades bounces off, or breaks beyond, the outer bands.
type BollingerStrategy struct{}

func (s *BollingerStrategy) Name() string { return "bollinger" }

func (s *BollingerStrategy) Evaluate(klines []exchange.Kline, currentPrice float64) (*Signal, error) {
	const period = 20
	const stdDevs = 2.0

	bands := CalculateBollingerBands(klines, period, stdDevs)
	if bands == nil {
		return holdSignal("insufficient data"), nil
	}

	indicators := map[string]float64{"upper": bands.Upper, "middle": bands.Middle, "lower": bands.Lower}

	belowLowerPct := (bands.Lower - currentPrice) / bands.Lower * 100
	aboveUpperPct := (currentPrice - bands.Upper) / bands.Upper * 100

	switch {
	case belowLowerPct > 2:
		return &Signal{Signal: SignalBuy, Confidence: 0.8, Reason: "price more than 2% below lower band", Indicators: indicators}, nil
	case currentPrice <= bands.Lower:
		return &Signal{Signal: SignalBuy, Confidence: 0.65, Reason: "price bounced off lower band", Indicators: indicators}, nil
	case aboveUpperPct > 2:
		return &Signal{Signal: SignalSell, Confidence: 0.8, Reason: "price more than 2% above upper band", Indicators: indicators}, nil
	case currentPrice >= bands.Upper:
		return &Signal{Signal: SignalSell, Confidence: 0.65, Reason: "price bounced off upper band", Indicators: indicators}, nil
	default:
		return &Signal{Signal: SignalHold, Confidence: 0, Reason: "price within bands", Indicators: indicators}, nil
	}
}

// CombinedStrategy runs SMA crossover, RSI, and MACD and only emits a signal
// when at least two of the valid sub-strategies agree.
type CombinedStrategy struct {
	sma  SMACrossoverStrategy
	rsi  RSIStrategy
	macd MACDStrategy
}

func (s *CombinedStrategy) Name() string { return "combined" }

func (s *CombinedStrategy) Evaluate(klines []exchange.Kline, currentPrice float64) (*Signal, error) {
	type vote struct {
		signal *Signal
		err    error
	}

	votes := []vote{}
	for _, sub := range []Strategy{&s.sma, &s.rsi, &s.macd} {
		sig, err := sub.Evaluate(klines, currentPrice)
		votes = append(votes, vote{signal: sig, err: err})
	}

	indicators := map[string]float64{}
	valid := 0
	buyVotes, sellVotes := 0, 0
	for _, v := range votes {
		if v.err != nil || v.signal == nil {
			continue
		}
		valid++
		for k, val := range v.signal.Indicators {
			indicators[k] = val
		}
		switch v.signal.Signal {
		case SignalBuy:
			buyVotes++
		case SignalSell:
			sellVotes++
		}
	}

	if valid == 0 {
		return holdSignal("no valid sub-strategy"), nil
	}

	agree := buyVotes
	signalType := SignalBuy
	reason := "majority of sub-strategies agree on BUY"
	if sellVotes > buyVotes {
		agree = sellVotes
		signalType = SignalSell
		reason = "majority of sub-strategies agree on SELL"
	}

	if agree < 2 {
		return &Signal{Signal: SignalHold, Confidence: 0, Reason: "fewer than 2 sub-strategies agree", Indicators: indicators}, nil
	}

	confidence := 0.6 + float64(agree)/float64(valid)*0.3
	return &Signal{Signal: signalType, Confidence: confidence, Reason: reason, Indicators: indicators}, nil
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

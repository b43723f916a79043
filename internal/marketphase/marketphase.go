// Package marketphase classifies recent candle action into a market phase
// (bullish, bearish, sideways) with a confidence score, the way a human
// trader reads a chart before trusting a strategy's signal.
package marketphase

import (
	"math"

	"cyphertrade/internal/exchange"
)

// Phase is the classification of recent price action.
type Phase string

const (
	PhaseBullish Phase = "BULLISH"
	PhaseBearish Phase = "BEARISH"
	PhaseSideways Phase = "SIDEWAYS"
	PhaseUnknown  Phase = "UNKNOWN"
)

const (
	bullishThreshold  = 2.0
	bearishThreshold  = -2.0
	sidewaysThreshold = 0.5
)

// Result is the outcome of a phase analysis, including the indicators it was
// derived from so callers can persist them alongside a trade decision.
type Result struct {
	Phase      Phase
	Confidence float64
	Indicators map[string]float64
}

// Analyze classifies the last lookback candles. Below the lookback minimum
// it returns {UNKNOWN, confidence:0} rather than erroring.
func Analyze(klines []exchange.Kline, lookback int) Result {
	if len(klines) < lookback {
		return Result{Phase: PhaseUnknown, Confidence: 0, Indicators: map[string]float64{}}
	}

	recent := klines[len(klines)-lookback:]
	closes := make([]float64, len(recent))
	highs := make([]float64, len(recent))
	lows := make([]float64, len(recent))
	for i, k := range recent {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
	}

	firstPrice := closes[0]
	lastPrice := closes[len(closes)-1]
	priceChangePct := (lastPrice - firstPrice) / firstPrice * 100

	smaShort := sma(closes, 5)
	smaLong := sma(closes, lookback)

	volatility := stddevPctReturns(closes) * 100

	higherHighs, lowerLows := 0, 0
	for i := 1; i < len(highs); i++ {
		if highs[i] > highs[i-1] {
			higherHighs++
		}
		if lows[i] < lows[i-1] {
			lowerLows++
		}
	}

	momentum := (closes[len(closes)-1] - closes[0]) / closes[0] * 100

	phase := classify(priceChangePct, momentum, volatility, smaShort, smaLong, higherHighs, lowerLows)
	confidence := confidenceScore(priceChangePct, momentum, volatility, smaShort, smaLong, higherHighs, lowerLows)

	return Result{
		Phase:      phase,
		Confidence: confidence,
		Indicators: map[string]float64{
			"price_change_pct": priceChangePct,
			"momentum":         momentum,
			"volatility":       volatility,
			"sma_short":        smaShort,
			"sma_long":         smaLong,
			"higher_highs":     float64(higherHighs),
			"lower_lows":       float64(lowerLows),
			"trend_strength":   math.Abs(momentum),
		},
	}
}

func classify(priceChangePct, momentum, volatility, smaShort, smaLong float64, higherHighs, lowerLows int) Phase {
	if priceChangePct > bullishThreshold && momentum > 1.0 {
		if higherHighs > lowerLows && smaShort > smaLong {
			return PhaseBullish
		}
		if float64(higherHighs) > float64(lowerLows)*2 {
			return PhaseBullish
		}
	}

	if priceChangePct < bearishThreshold && momentum < -1.0 {
		if lowerLows > higherHighs && smaShort < smaLong {
			return PhaseBearish
		}
		if float64(lowerLows) > float64(higherHighs)*2 {
			return PhaseBearish
		}
	}

	if math.Abs(priceChangePct) < sidewaysThreshold {
		return PhaseSideways
	}

	if volatility < 1.0 && math.Abs(momentum) < 0.5 {
		return PhaseSideways
	}

	switch {
	case priceChangePct > 0:
		return PhaseBullish
	case priceChangePct < 0:
		return PhaseBearish
	default:
		return PhaseSideways
	}
}

func confidenceScore(priceChangePct, momentum, volatility, smaShort, smaLong float64, higherHighs, lowerLows int) float64 {
	baseConfidence := math.Min(math.Abs(priceChangePct)/5.0, 1.0)
	momentumConfirmation := math.Min(math.Abs(momentum)/3.0, 1.0)

	smaConfirmation := 0.5
	if (smaShort > smaLong && priceChangePct > 0) || (smaShort < smaLong && priceChangePct < 0) {
		smaConfirmation = 1.0
	}

	patternConfirmation := 0.5
	totalPatterns := higherHighs + lowerLows
	if totalPatterns > 0 {
		if priceChangePct > 0 {
			patternConfirmation = float64(higherHighs) / float64(totalPatterns)
		} else {
			patternConfirmation = float64(lowerLows) / float64(totalPatterns)
		}
	}

	volatilityFactor := math.Max(0.5, 1.0-volatility/5.0)

	confidence := (baseConfidence*0.3 + momentumConfirmation*0.25 + smaConfirmation*0.25 + patternConfirmation*0.2) * volatilityFactor

	return clamp01(confidence)
}

func sma(values []float64, period int) float64 {
	if len(values) < period {
		period = len(values)
	}
	if period == 0 {
		return 0
	}
	sum := 0.0
	start := len(values) - period
	for i := start; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

func stddevPctReturns(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	// sample standard deviation (N-1), matching pandas' default ddof=1.
	if len(returns) < 2 {
		return 0
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

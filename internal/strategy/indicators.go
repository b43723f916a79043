package strategy

import (
	"cyphertrade/internal/exchange"
	"math"
)

// CalculateSMA calculates the Simple Moving Average of the last period closes.
func CalculateSMA(klines []exchange.Kline, period int) float64 {
	if len(klines) < period {
		return 0
	}

	sum := 0.0
	startIdx := len(klines) - period
	for i := startIdx; i < len(klines); i++ {
		sum += klines[i].Close
	}
	return sum / float64(period)
}

// emaSeries returns the EMA of closes at every index from period-1 onward,
// seeded by the SMA of the first window. Needed wherever a true EMA of a
// derived series (e.g. the MACD line) is required, not just its latest value.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, len(values)-period+1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[0] = ema

	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out[i-period+1] = ema
	}
	return out
}

// CalculateEMA calculates the Exponential Moving Average of the last period closes.
func CalculateEMA(klines []exchange.Kline, period int) float64 {
	closes := closesOf(klines)
	series := emaSeries(closes, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func closesOf(klines []exchange.Kline) []float64 {
	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	return closes
}

// CalculateRSI calculates the Relative Strength Index from the simple average
// gain and loss over the last period changes (no Wilder smoothing).
// Returns NaN if there is not enough history - callers must degrade to HOLD.
func CalculateRSI(klines []exchange.Kline, period int) float64 {
	if len(klines) < period+1 {
		return math.NaN()
	}

	gains, losses := 0.0, 0.0
	startIdx := len(klines) - period
	for i := startIdx; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// rsiSeries returns RSI at every index from period onward, for crossover detection.
func rsiSeries(klines []exchange.Kline, period int) []float64 {
	if len(klines) < period+1 {
		return nil
	}

	out := make([]float64, 0, len(klines)-period)
	for end := period + 1; end <= len(klines); end++ {
		out = append(out, CalculateRSI(klines[:end], period))
	}
	return out
}

// MACDResult holds the MACD line, its signal line, and the histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD computes the MACD line as fastEMA-slowEMA and its signal line
// as a true signalPeriod-EMA of the MACD line series (not an approximation).
func CalculateMACD(klines []exchange.Kline, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	if len(klines) < slowPeriod+signalPeriod {
		return nil
	}

	closes := closesOf(klines)
	fastSeries := emaSeries(closes, fastPeriod)
	slowSeries := emaSeries(closes, slowPeriod)

	// Align the two EMA series on the same trailing window (slow starts later).
	offset := len(fastSeries) - len(slowSeries)
	macdLine := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdLine[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries := emaSeries(macdLine, signalPeriod)
	if len(signalSeries) == 0 {
		return nil
	}

	macd := macdLine[len(macdLine)-1]
	signal := signalSeries[len(signalSeries)-1]
	return &MACDResult{MACD: macd, Signal: signal, Histogram: macd - signal}
}

// macdCrossover reports whether the MACD line crossed the signal line between
// the previous and current candle, and in which direction.
func macdCrossover(klines []exchange.Kline, fastPeriod, slowPeriod, signalPeriod int) (crossedUp, crossedDown bool) {
	if len(klines) < slowPeriod+signalPeriod+1 {
		return false, false
	}
	prev := CalculateMACD(klines[:len(klines)-1], fastPeriod, slowPeriod, signalPeriod)
	curr := CalculateMACD(klines, fastPeriod, slowPeriod, signalPeriod)
	if prev == nil || curr == nil {
		return false, false
	}
	crossedUp = prev.MACD <= prev.Signal && curr.MACD > curr.Signal
	crossedDown = prev.MACD >= prev.Signal && curr.MACD < curr.Signal
	return crossedUp, crossedDown
}

// BollingerBandsResult holds Bollinger Bands values.
type BollingerBandsResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands calculates Bollinger Bands with the given std-dev multiplier.
func CalculateBollingerBands(klines []exchange.Kline, period int, stdDevMultiplier float64) *BollingerBandsResult {
	if len(klines) < period {
		return nil
	}

	middle := CalculateSMA(klines, period)

	variance := 0.0
	startIdx := len(klines) - period
	for i := startIdx; i < len(klines); i++ {
		diff := klines[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return &BollingerBandsResult{
		Upper:  middle + (stdDev * stdDevMultiplier),
		Middle: middle,
		Lower:  middle - (stdDev * stdDevMultiplier),
	}
}

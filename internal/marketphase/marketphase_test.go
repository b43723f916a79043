package marketphase

import (
	"testing"

	"cyphertrade/internal/exchange"
)

func trendKlines(start, step float64, n int) []exchange.Kline {
	klines := make([]exchange.Kline, n)
	price := start
	for i := 0; i < n; i++ {
		close := price + step
		high := price
		low := close
		if close > high {
			high = close
		}
		if price < low {
			low = price
		}
		klines[i] = exchange.Kline{Open: price, High: high, Low: low, Close: close}
		price = close
	}
	return klines
}

func TestAnalyzeInsufficientData(t *testing.T) {
	result := Analyze(trendKlines(100, 1, 5), 20)
	if result.Phase != PhaseUnknown || result.Confidence != 0 {
		t.Errorf("expected UNKNOWN/0 confidence below lookback, got %+v", result)
	}
}

func TestAnalyzeStrongUptrend(t *testing.T) {
	result := Analyze(trendKlines(100, 1, 20), 20)
	if result.Phase != PhaseBullish {
		t.Errorf("expected BULLISH for a strong uptrend, got %s", result.Phase)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("confidence out of range: %v", result.Confidence)
	}
}

func TestAnalyzeStrongDowntrend(t *testing.T) {
	result := Analyze(trendKlines(100, -1, 20), 20)
	if result.Phase != PhaseBearish {
		t.Errorf("expected BEARISH for a strong downtrend, got %s", result.Phase)
	}
}

func TestAnalyzeFlatIsSideways(t *testing.T) {
	result := Analyze(trendKlines(100, 0, 20), 20)
	if result.Phase != PhaseSideways {
		t.Errorf("expected SIDEWAYS for a flat series, got %s", result.Phase)
	}
}

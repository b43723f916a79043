package strategy

import (
	"testing"

	"cyphertrade/internal/exchange"
)

func buildTrend(start, step float64, n int) []exchange.Kline {
	klines := make([]exchange.Kline, n)
	price := start
	for i := 0; i < n; i++ {
		open := price
		close := price + step
		high := open
		low := close
		if close > high {
			high = close
		}
		if open < low {
			low = open
		}
		klines[i] = exchange.Kline{
			OpenTime: int64(i),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   100,
		}
		price = close
	}
	return klines
}

func TestSMACrossoverInsufficientData(t *testing.T) {
	s := &SMACrossoverStrategy{}
	sig, err := s.Evaluate(buildTrend(100, 1, 10), 110)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Signal != SignalHold || sig.Confidence != 0 {
		t.Errorf("expected HOLD with zero confidence on insufficient data, got %+v", sig)
	}
}

func TestRSIOverboughtProducesSell(t *testing.T) {
	s := &RSIStrategy{}
	// a long uptrend drives RSI toward overbought, then a down candle should
	// cross it back down through 70.
	klines := buildTrend(100, 2, 20)
	klines = append(klines, exchange.Kline{OpenTime: 21, Open: klines[len(klines)-1].Close, High: klines[len(klines)-1].Close, Low: klines[len(klines)-1].Close - 20, Close: klines[len(klines)-1].Close - 20, Volume: 100})

	sig, err := s.Evaluate(klines, klines[len(klines)-1].Close)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Signal != SignalSell {
		t.Errorf("expected SELL as RSI crosses down through overbought, got %v (%s)", sig.Signal, sig.Reason)
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		t.Errorf("confidence out of range: %v", sig.Confidence)
	}
}

func TestBollingerBounceBuy(t *testing.T) {
	s := &BollingerStrategy{}
	klines := buildTrend(100, 0, 25) // flat series, low stddev
	klines[len(klines)-1].Close = 80 // sharp drop through lower band
	sig, err := s.Evaluate(klines, 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Signal != SignalBuy {
		t.Errorf("expected BUY on sharp drop below lower band, got %v (%s)", sig.Signal, sig.Reason)
	}
}

func TestCombinedRequiresMajority(t *testing.T) {
	s := &CombinedStrategy{}
	// flat, uneventful series: SMA and MACD see no crossover and only RSI
	// (which reads a loss-free series as 100) votes SELL, so with one vote
	// Combined must HOLD rather than pick a direction.
	klines := buildTrend(100, 0, 60)
	sig, err := s.Evaluate(klines, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Signal != SignalHold {
		t.Errorf("expected HOLD when sub-strategies disagree or are flat, got %v: %s", sig.Signal, sig.Reason)
	}
}

func TestNewUnknownStrategy(t *testing.T) {
	if _, err := New("not_a_strategy"); err == nil {
		t.Error("expected error for unknown strategy name")
	}
}

func TestNewKnownStrategies(t *testing.T) {
	for _, name := range []string{"sma_crossover", "rsi", "macd", "bollinger", "combined"} {
		strat, err := New(name)
		if err != nil {
			t.Errorf("New(%q) failed: %v", name, err)
		}
		if strat.Name() != name {
			t.Errorf("expected Name()=%q, got %q", name, strat.Name())
		}
	}
}

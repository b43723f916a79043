package position

import (
	"testing"
	"time"

	"cyphertrade/internal/exchange"
)

func TestApplyBuyAveragesEntryPrice(t *testing.T) {
	now := time.Now()
	p := NewPosition()
	p = ApplyBuy(p, 1.0, 100.0, now)
	p = ApplyBuy(p, 1.0, 200.0, now.Add(time.Minute))

	if p.Side != SideLong || p.Size != 2.0 {
		t.Fatalf("expected LONG size 2, got %+v", p)
	}
	if p.EntryPrice != 150.0 {
		t.Errorf("expected weighted entry price 150, got %v", p.EntryPrice)
	}
	if p.HighSinceEntry != 200.0 {
		t.Errorf("expected high water mark to track the higher fill, got %v", p.HighSinceEntry)
	}
}

func TestUpdateHighWaterMarkTracksLongHighAndShortLow(t *testing.T) {
	now := time.Now()
	long := ApplyBuy(NewPosition(), 1.0, 100.0, now)
	long = UpdateHighWaterMark(long, 90.0)
	if long.HighSinceEntry != 100.0 {
		t.Errorf("a LONG high water mark must never drop, got %v", long.HighSinceEntry)
	}
	long = UpdateHighWaterMark(long, 120.0)
	if long.HighSinceEntry != 120.0 {
		t.Errorf("expected high water mark to advance to 120, got %v", long.HighSinceEntry)
	}

	short := ApplySell(100.0, 1.0, now)
	short = UpdateHighWaterMark(short, 110.0)
	if short.HighSinceEntry != 100.0 {
		t.Errorf("a SHORT low water mark must never rise, got %v", short.HighSinceEntry)
	}
	short = UpdateHighWaterMark(short, 80.0)
	if short.HighSinceEntry != 80.0 {
		t.Errorf("expected low water mark to advance down to 80, got %v", short.HighSinceEntry)
	}
}

func TestDeriveExecutionPriceFallbackChain(t *testing.T) {
	cases := []struct {
		name      string
		order     *exchange.OrderResponse
		wantPrice float64
		wantOK    bool
	}{
		{
			name:      "nil order rejected",
			order:     nil,
			wantPrice: 0,
			wantOK:    false,
		},
		{
			name: "fills quoteQty/qty sum",
			order: &exchange.OrderResponse{
				Fills: []exchange.Fill{{QuoteQty: 100, Qty: 1}, {QuoteQty: 210, Qty: 2}},
			},
			wantPrice: 310.0 / 3.0,
			wantOK:    true,
		},
		{
			name: "fills price*qty fallback when quoteQty sum is zero",
			order: &exchange.OrderResponse{
				Fills: []exchange.Fill{{Price: 100, Qty: 1}, {Price: 120, Qty: 1}},
			},
			wantPrice: 110.0,
			wantOK:    true,
		},
		{
			name: "cumulative quote / executed qty",
			order: &exchange.OrderResponse{
				ExecutedQty:         2,
				CummulativeQuoteQty: 240,
			},
			wantPrice: 120.0,
			wantOK:    true,
		},
		{
			name:      "order.Price as last resort",
			order:     &exchange.OrderResponse{Price: 99.5},
			wantPrice: 99.5,
			wantOK:    true,
		},
		{
			name:      "nothing usable, must reject rather than fall back to ticker",
			order:     &exchange.OrderResponse{},
			wantPrice: 0,
			wantOK:    false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price, ok := DeriveExecutionPrice(tc.order)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && absDiff(price, tc.wantPrice) > 1e-9 {
				t.Errorf("price = %v, want %v", price, tc.wantPrice)
			}
		})
	}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestEvaluateCloseGuardsStopLossBypassesMinHoldAndMinProfit(t *testing.T) {
	cfg := NewDefaultConfig()
	now := time.Now()
	p := ApplyBuy(NewPosition(), 1.0, 100.0, now) // just opened, no holding time at all

	decision := EvaluateCloseGuards(cfg, p, 97.0, now) // -3% < -2% stop-loss
	if !decision.Allow || decision.ExitReason != ExitStopLoss {
		t.Fatalf("expected stop-loss to bypass min-hold/min-profit, got %+v", decision)
	}
}

func TestEvaluateCloseGuardsMinHoldingTimeBlocks(t *testing.T) {
	cfg := NewDefaultConfig()
	now := time.Now()
	p := ApplyBuy(NewPosition(), 1.0, 100.0, now)

	decision := EvaluateCloseGuards(cfg, p, 103.0, now.Add(time.Minute)) // profitable but held <15m
	if decision.Allow {
		t.Fatalf("expected close to be blocked before minimum holding time, got %+v", decision)
	}
}

func TestEvaluateCloseGuardsTrailingTakeProfitLongOnly(t *testing.T) {
	cfg := NewDefaultConfig()
	entryTime := time.Now().Add(-20 * time.Minute)
	p := ApplyBuy(NewPosition(), 1.0, 100.0, entryTime)
	p = UpdateHighWaterMark(p, 106.0) // +6% high

	// Drops ~3.3% from the 106 high to 102.5, still +2.5% over entry.
	decision := EvaluateCloseGuards(cfg, p, 102.5, entryTime.Add(20*time.Minute))
	if !decision.Allow || decision.ExitReason != ExitTakeProfit {
		t.Fatalf("expected trailing take-profit to trigger, got %+v", decision)
	}
}

func TestEvaluateCloseGuardsShortClosesOnSignalOnceProfitable(t *testing.T) {
	cfg := NewDefaultConfig()
	entryTime := time.Now().Add(-20 * time.Minute)
	p := ApplySell(100.0, 1.0, entryTime)

	// SHORT profits as price falls: 100 -> 97 is +3%.
	decision := EvaluateCloseGuards(cfg, p, 97.0, entryTime.Add(20*time.Minute))
	if !decision.Allow || decision.ExitReason != ExitSignal {
		t.Fatalf("expected a profitable SHORT past min-hold to close on signal, got %+v", decision)
	}
}

func TestReEvaluateAtExecutionAbortsOnNonPositivePnL(t *testing.T) {
	entryTime := time.Now().Add(-20 * time.Minute)
	p := ApplyBuy(NewPosition(), 1.0, 100.0, entryTime)
	decision := CloseDecision{Allow: true, ExitReason: ExitTakeProfit}

	redecided, proceed := ReEvaluateAtExecution(p, decision, 99.0) // price dropped below entry before execution
	if proceed {
		t.Fatalf("expected execution-time re-check to abort a non-positive pnl take-profit, got %+v", redecided)
	}

	// A non-take-profit decision should pass through untouched.
	stopLoss := CloseDecision{Allow: true, ExitReason: ExitStopLoss}
	redecided, proceed = ReEvaluateAtExecution(p, stopLoss, 50.0)
	if !proceed || redecided.ExitReason != ExitStopLoss {
		t.Errorf("expected stop-loss decisions to pass through re-evaluation unchanged, got %+v, proceed=%v", redecided, proceed)
	}
}

func TestEvaluateOpenGuards(t *testing.T) {
	cfg := NewDefaultConfig()

	cases := []struct {
		name  string
		in    OpenGuardInput
		allow bool
	}{
		{
			name:  "confidence below threshold",
			in:    OpenGuardInput{Confidence: 0.5, Tradable: true, BudgetCap: 100, RemainingQuote: 100, OrderValueQuote: 10},
			allow: false,
		},
		{
			name:  "not tradable",
			in:    OpenGuardInput{Confidence: 0.9, Tradable: false, BudgetCap: 100, RemainingQuote: 100, OrderValueQuote: 10},
			allow: false,
		},
		{
			name:  "budget cap reached",
			in:    OpenGuardInput{Confidence: 0.9, Tradable: true, NetSpent: 100, BudgetCap: 100, RemainingQuote: 100, OrderValueQuote: 10},
			allow: false,
		},
		{
			name:  "order value exceeds remaining budget",
			in:    OpenGuardInput{Confidence: 0.9, Tradable: true, NetSpent: 0, BudgetCap: 100, RemainingQuote: 5, OrderValueQuote: 10},
			allow: false,
		},
		{
			name:  "all guards pass",
			in:    OpenGuardInput{Confidence: 0.9, Tradable: true, NetSpent: 0, BudgetCap: 100, RemainingQuote: 100, OrderValueQuote: 10},
			allow: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := EvaluateOpenGuards(cfg, tc.in)
			if decision.Allow != tc.allow {
				t.Errorf("Allow = %v, want %v (reason: %q)", decision.Allow, tc.allow, decision.Reason)
			}
		})
	}
}

func TestNetSpentFloorsAtZero(t *testing.T) {
	if got := NetSpent(100, 150); got != 0 {
		t.Errorf("expected NetSpent to floor at zero when sells exceed buys, got %v", got)
	}
	if got := NetSpent(150, 100); got != 50 {
		t.Errorf("expected NetSpent = 50, got %v", got)
	}
}

func TestClosePnLRederivesExitReasonFromRealizedPnL(t *testing.T) {
	cfg := NewDefaultConfig()
	p := ApplyBuy(NewPosition(), 1.0, 100.0, time.Now())

	_, pnlPct, reason := ClosePnL(cfg, p, 97.0, ExitSignal)
	if reason != ExitStopLoss {
		t.Errorf("expected a -3%% realized close to be re-tagged STOP_LOSS, got %s (pnl=%v)", reason, pnlPct)
	}

	_, _, reason = ClosePnL(cfg, p, 103.0, ExitSignal)
	if reason != ExitTakeProfit {
		t.Errorf("expected a +3%% realized close to be re-tagged TAKE_PROFIT, got %s", reason)
	}

	_, _, reason = ClosePnL(cfg, p, 95.0, ExitManual)
	if reason != ExitManual {
		t.Errorf("a MANUAL exit reason must never be re-derived, got %s", reason)
	}
}

func TestQuoteQtyConsistent(t *testing.T) {
	if !QuoteQtyConsistent(2.0, 100.0, 200.0) {
		t.Error("expected an exact match to be consistent")
	}
	if QuoteQtyConsistent(2.0, 100.0, 500.0) {
		t.Error("expected a grossly mismatched quote_qty to fail consistency check")
	}
}

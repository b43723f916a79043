package exchange

import "testing"

func TestAdjustToLot(t *testing.T) {
	filters := SymbolFilters{MinQty: 0.001, MaxQty: 100, StepSize: 0.001}

	cases := []struct {
		qty  float64
		want float64
	}{
		{0.0015, 0.001},
		{0.0019, 0.001},
		{0.0005, 0},
		{150, 100},
	}

	for _, c := range cases {
		got := AdjustToLot(filters, c.qty)
		if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("AdjustToLot(%v) = %v, want %v", c.qty, got, c.want)
		}
	}
}

func TestAdjustToNotional(t *testing.T) {
	filters := SymbolFilters{MinQty: 0.001, MaxQty: 100, StepSize: 0.001, MinNotional: 10}

	// already above minNotional: unchanged
	qty, ok := AdjustToNotional(filters, 1, 20)
	if !ok || qty != 1 {
		t.Fatalf("expected unchanged qty=1, got qty=%v ok=%v", qty, ok)
	}

	// below minNotional: raised to meet it
	qty, ok = AdjustToNotional(filters, 0.1, 20)
	if !ok {
		t.Fatal("expected feasible adjustment")
	}
	if qty*20 < filters.MinNotional {
		t.Fatalf("adjusted qty %v at price 20 does not meet min notional 10", qty)
	}

	// infeasible: required qty exceeds MaxQty
	infeasible := SymbolFilters{MinQty: 0.001, MaxQty: 0.01, StepSize: 0.001, MinNotional: 1000}
	_, ok = AdjustToNotional(infeasible, 0.001, 1)
	if ok {
		t.Fatal("expected infeasible adjustment to fail")
	}
}

func TestOptimalBuyQuantity(t *testing.T) {
	filters := SymbolFilters{MinQty: 0.0001, MaxQty: 1000, StepSize: 0.0001, MinNotional: 10}

	qty, ok := OptimalBuyQuantity(filters, 100, 50000, 100)
	if !ok {
		t.Fatal("expected feasible buy quantity")
	}
	if qty*50000 > 100+1e-6 {
		t.Fatalf("quantity %v costs more than budget 100 at price 50000", qty)
	}

	// available balance below budget caps the spend
	qty, ok = OptimalBuyQuantity(filters, 100, 50000, 15)
	if !ok {
		t.Fatal("expected feasible buy quantity capped by balance")
	}
	if qty*50000 > 15+1e-6 {
		t.Fatalf("quantity %v exceeds available balance 15 at price 50000", qty)
	}

	// budget below min notional is infeasible
	_, ok = OptimalBuyQuantity(filters, 5, 50000, 100)
	if ok {
		t.Fatal("expected infeasible buy quantity below min notional")
	}
}

func TestIsRetriable(t *testing.T) {
	transient := newError(ErrKindTransient, "Price", errTest("timeout"))
	if !IsRetriable(transient) {
		t.Error("transient error should be retriable")
	}

	permission := newError(ErrKindPermission, "PlaceOrder", errTest("forbidden"))
	if IsRetriable(permission) {
		t.Error("permission error should not be retriable")
	}

	if IsRetriable(errTest("plain error")) {
		t.Error("non-exchange error should not be retriable")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

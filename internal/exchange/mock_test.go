package exchange

import (
	"context"
	"testing"
)

func TestMockGatewayPlaceOrderFills(t *testing.T) {
	gw := NewMockGateway("USDT", 1000, 42)
	ctx := context.Background()

	gw.SetPrice("BTCUSDT", 50000)

	resp, err := gw.PlaceOrder(ctx, "BTCUSDT", "BUY", 0.01, ModeSpot)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if resp.Status != "FILLED" {
		t.Errorf("expected FILLED status, got %s", resp.Status)
	}
	if len(resp.Fills) != 1 {
		t.Fatalf("expected exactly one fill, got %d", len(resp.Fills))
	}
	if resp.Fills[0].Qty != 0.01 {
		t.Errorf("expected fill qty 0.01, got %v", resp.Fills[0].Qty)
	}
}

func TestMockGatewayUnknownSymbol(t *testing.T) {
	gw := NewMockGateway("USDT", 1000, 1)
	ctx := context.Background()

	_, err := gw.Price(ctx, "NOPEUSDT")
	if err == nil {
		t.Fatal("expected error for unknown symbol")
	}
	var exErr *Error
	if !errAs(err, &exErr) || exErr.Kind != ErrKindSymbol {
		t.Errorf("expected ErrKindSymbol, got %v", err)
	}
}

func TestMockGatewayIsTradable(t *testing.T) {
	gw := NewMockGateway("USDT", 1000, 1)
	ctx := context.Background()

	tradable, reason, err := gw.IsTradable(ctx, "BTCUSDT")
	if err != nil || !tradable || reason != "" {
		t.Errorf("expected BTCUSDT tradable, got tradable=%v reason=%q err=%v", tradable, reason, err)
	}

	tradable, reason, err = gw.IsTradable(ctx, "NOPEUSDT")
	if err != nil || tradable || reason == "" {
		t.Errorf("expected NOPEUSDT untradable with reason, got tradable=%v reason=%q err=%v", tradable, reason, err)
	}
}

func TestMockGatewayKlinesCount(t *testing.T) {
	gw := NewMockGateway("USDT", 1000, 7)
	ctx := context.Background()

	klines, err := gw.Klines(ctx, "ETHUSDT", "5m", 20)
	if err != nil {
		t.Fatalf("Klines failed: %v", err)
	}
	if len(klines) != 20 {
		t.Fatalf("expected 20 klines, got %d", len(klines))
	}
	for i := 1; i < len(klines); i++ {
		if klines[i].OpenTime <= klines[i-1].OpenTime {
			t.Fatalf("klines not in ascending time order at index %d", i)
		}
	}
}

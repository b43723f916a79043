package exchange

import "context"

// Gateway is the contract every bot trades through, satisfied by Client
// (live Binance-style REST) and MockGateway (testnet/dry-run simulation).
type Gateway interface {
	Price(ctx context.Context, symbol string) (float64, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	Balance(ctx context.Context, asset string, mode TradingMode) (float64, error)
	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
	IsTradable(ctx context.Context, symbol string) (bool, string, error)
	PlaceOrder(ctx context.Context, symbol, side string, quantity float64, mode TradingMode) (*OrderResponse, error)
	OrderStatus(ctx context.Context, symbol string, orderID int64, mode TradingMode) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

// AdjustToLot floors qty to stepSize and caps it at maxQty; a result below
// minQty returns 0.
func AdjustToLot(filters SymbolFilters, qty float64) float64 {
	if filters.StepSize <= 0 {
		return qty
	}
	steps := floorDiv(qty, filters.StepSize)
	adjusted := steps * filters.StepSize
	if adjusted < filters.MinQty {
		return 0
	}
	if filters.MaxQty > 0 && adjusted > filters.MaxQty {
		adjusted = floorDiv(filters.MaxQty, filters.StepSize) * filters.StepSize
	}
	return roundStep(adjusted, filters.StepSize)
}

// AdjustToNotional raises qty so that qty*price meets minNotional, rounding up
// to the next stepSize multiple. Returns (0, false) if infeasible.
func AdjustToNotional(filters SymbolFilters, qty, price float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	if qty*price >= filters.MinNotional {
		return qty, true
	}
	if filters.StepSize <= 0 {
		return 0, false
	}
	required := filters.MinNotional / price
	steps := ceilDiv(required, filters.StepSize)
	adjusted := roundStep(steps*filters.StepSize, filters.StepSize)
	if filters.MaxQty > 0 && adjusted > filters.MaxQty {
		return 0, false
	}
	return adjusted, true
}

// OptimalBuyQuantity combines lot and notional adjustment, capped by budget and balance.
func OptimalBuyQuantity(filters SymbolFilters, budgetQuote, price, availableQuote float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	cap := budgetQuote
	if availableQuote < cap {
		cap = availableQuote
	}
	if cap <= 0 {
		return 0, false
	}

	qty := AdjustToLot(filters, cap/price)
	if qty <= 0 {
		return 0, false
	}

	adjusted, ok := AdjustToNotional(filters, qty, price)
	if !ok {
		return 0, false
	}
	if adjusted*price > cap {
		return 0, false
	}
	return adjusted, true
}

func floorDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return float64(int64(a / b))
}

func ceilDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	q := a / b
	i := int64(q)
	if q > float64(i) {
		i++
	}
	return float64(i)
}

func roundStep(v, step float64) float64 {
	if step == 0 {
		return v
	}
	n := int64(v/step + 0.5)
	return float64(n) * step
}

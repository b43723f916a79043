package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockGateway simulates the exchange for dry-run and testnet operation. Prices
// random-walk around a seeded base price the way the teacher's mock client
// did, but it also satisfies the full Gateway contract so bots never need to
// branch on dry-run versus live.
type MockGateway struct {
	mu          sync.RWMutex
	prices      map[string]float64
	balances    map[string]float64
	filters     map[string]SymbolFilters
	lastUpdate  time.Time
	nextOrderID int64
	rng         *rand.Rand
}

var _ Gateway = (*MockGateway)(nil)

// defaultBasePrices seeds a realistic starting point for common pairs so a
// freshly constructed mock gateway is usable without any configuration.
var defaultBasePrices = map[string]float64{
	"BTCUSDT":  104500.00,
	"ETHUSDT":  3800.00,
	"BNBUSDT":  650.00,
	"SOLUSDT":  220.00,
	"XRPUSDT":  2.30,
	"ADAUSDT":  0.95,
	"DOGEUSDT": 0.38,
	"AVAXUSDT": 42.00,
	"DOTUSDT":  8.50,
	"LINKUSDT": 24.00,
	"MATICUSDT": 0.55,
	"LTCUSDT":  105.00,
}

// NewMockGateway builds a mock gateway with seeded prices and a starting
// quote balance. seed lets tests reproduce a deterministic price path.
func NewMockGateway(quoteAsset string, startingBalance float64, seed int64) *MockGateway {
	prices := make(map[string]float64, len(defaultBasePrices))
	for sym, p := range defaultBasePrices {
		prices[sym] = p
	}

	return &MockGateway{
		prices:      prices,
		balances:    map[string]float64{quoteAsset: startingBalance},
		filters:     map[string]SymbolFilters{},
		lastUpdate:  time.Time{},
		nextOrderID: 1,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// SetFilters overrides the simulated LOT_SIZE/MIN_NOTIONAL filters for a
// symbol; without it, SymbolFilters falls back to a permissive default.
func (m *MockGateway) SetFilters(symbol string, filters SymbolFilters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[symbol] = filters
}

// SetPrice pins a symbol's current simulated price, e.g. for test scenarios.
func (m *MockGateway) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *MockGateway) walk() {
	now := time.Now()
	if now.Sub(m.lastUpdate) < time.Second {
		return
	}
	m.lastUpdate = now
	for sym, price := range m.prices {
		change := (m.rng.Float64() - 0.5) * 0.01 // +/-0.5%
		m.prices[sym] = price * (1 + change)
	}
}

func (m *MockGateway) Price(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walk()
	price, ok := m.prices[symbol]
	if !ok {
		return 0, newError(ErrKindSymbol, "Price", fmt.Errorf("unknown mock symbol %s", symbol))
	}
	return price, nil
}

func (m *MockGateway) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	m.mu.Lock()
	base, ok := m.prices[symbol]
	m.mu.Unlock()
	if !ok {
		return nil, newError(ErrKindSymbol, "Klines", fmt.Errorf("unknown mock symbol %s", symbol))
	}

	step := intervalDuration(interval)
	now := time.Now()
	klines := make([]Kline, limit)
	price := base
	for i := limit - 1; i >= 0; i-- {
		open := price
		change := (m.rng.Float64() - 0.5) * 0.02
		close := open * (1 + change)
		high := open
		if close > high {
			high = close
		}
		high *= 1 + m.rng.Float64()*0.005
		low := open
		if close < low {
			low = close
		}
		low *= 1 - m.rng.Float64()*0.005

		openTime := now.Add(-time.Duration(i+1) * step)
		closeTime := openTime.Add(step)

		klines[limit-1-i] = Kline{
			OpenTime:                 openTime.UnixMilli(),
			Open:                     open,
			High:                     high,
			Low:                      low,
			Close:                    close,
			Volume:                   100 + m.rng.Float64()*1000,
			CloseTime:                closeTime.UnixMilli(),
			QuoteAssetVolume:         (100 + m.rng.Float64()*1000) * open,
			NumberOfTrades:           50 + int(m.rng.Float64()*500),
			TakerBuyBaseAssetVolume:  50 + m.rng.Float64()*500,
			TakerBuyQuoteAssetVolume: (50 + m.rng.Float64()*500) * open,
		}
		price = close
	}
	return klines, nil
}

func (m *MockGateway) Balance(ctx context.Context, asset string, mode TradingMode) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[asset], nil
}

func (m *MockGateway) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.filters[symbol]; ok {
		return f, nil
	}
	return SymbolFilters{MinQty: 0.0001, MaxQty: 1_000_000, StepSize: 0.0001, MinNotional: 10}, nil
}

func (m *MockGateway) IsTradable(ctx context.Context, symbol string) (bool, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.prices[symbol]; !ok {
		return false, "symbol not simulated", nil
	}
	return true, "", nil
}

func (m *MockGateway) PlaceOrder(ctx context.Context, symbol, side string, quantity float64, mode TradingMode) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walk()

	price, ok := m.prices[symbol]
	if !ok {
		return nil, newError(ErrKindSymbol, "PlaceOrder", fmt.Errorf("unknown mock symbol %s", symbol))
	}

	quoteQty := quantity * price
	m.nextOrderID++

	return &OrderResponse{
		Symbol:              symbol,
		OrderId:             m.nextOrderID,
		ClientOrderId:       fmt.Sprintf("mock-%d", m.nextOrderID),
		TransactTime:        time.Now().UnixMilli(),
		Price:               price,
		OrigQty:             quantity,
		ExecutedQty:         quantity,
		CummulativeQuoteQty: quoteQty,
		Status:              "FILLED",
		Type:                "MARKET",
		Side:                side,
		Fills: []Fill{
			{Price: price, Qty: quantity, QuoteQty: quoteQty},
		},
	}, nil
}

func (m *MockGateway) OrderStatus(ctx context.Context, symbol string, orderID int64, mode TradingMode) (*OrderResponse, error) {
	m.mu.RLock()
	price := m.prices[symbol]
	m.mu.RUnlock()
	return &OrderResponse{
		Symbol:  symbol,
		OrderId: orderID,
		Price:   price,
		Status:  "FILLED",
	}, nil
}

func (m *MockGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

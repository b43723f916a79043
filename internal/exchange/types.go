// Package exchange is the Binance-style REST gateway every bot trades
// through. It carries the teacher's wire format (HMAC-signed requests, raw
// kline array parsing) extended with the fields the close-guard chain needs:
// order fills and per-symbol lot/notional filters.
package exchange

// Kline represents a candlestick
type Kline struct {
	OpenTime                 int64   `json:"openTime"`
	Open                     float64 `json:"open,string"`
	High                     float64 `json:"high,string"`
	Low                      float64 `json:"low,string"`
	Close                    float64 `json:"close,string"`
	Volume                   float64 `json:"volume,string"`
	CloseTime                int64   `json:"closeTime"`
	QuoteAssetVolume         float64 `json:"quoteAssetVolume,string"`
	NumberOfTrades           int     `json:"numberOfTrades"`
	TakerBuyBaseAssetVolume  float64 `json:"takerBuyBaseAssetVolume,string"`
	TakerBuyQuoteAssetVolume float64 `json:"takerBuyQuoteAssetVolume,string"`
}

// Fill is one execution leg of a filled order.
type Fill struct {
	Price   float64 `json:"price,string"`
	Qty     float64 `json:"qty,string"`
	QuoteQty float64 `json:"quoteQty,string"`
}

// OrderResponse represents a response from placing or querying an order.
// Fills is the teacher's OrderResponse extended to carry execution legs -
// required by the execution-price derivation algorithm.
type OrderResponse struct {
	Symbol              string  `json:"symbol"`
	OrderId             int64   `json:"orderId"`
	ClientOrderId       string  `json:"clientOrderId"`
	TransactTime        int64   `json:"transactTime"`
	Price               float64 `json:"price,string"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	Type                string  `json:"type"`
	Side                string  `json:"side"`
	Fills               []Fill  `json:"fills"`
}

// SymbolFilters carries the exchange's LOT_SIZE/MIN_NOTIONAL constraints for a symbol.
type SymbolFilters struct {
	MinQty      float64
	MaxQty      float64
	StepSize    float64
	MinNotional float64
}

type symbolInfoRaw struct {
	Symbol               string       `json:"symbol"`
	Status               string       `json:"status"`
	BaseAsset            string       `json:"baseAsset"`
	QuoteAsset           string       `json:"quoteAsset"`
	IsSpotTradingAllowed bool         `json:"isSpotTradingAllowed"`
	Filters              []filterRaw  `json:"filters"`
}

type filterRaw struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

type exchangeInfoRaw struct {
	Symbols []symbolInfoRaw `json:"symbols"`
}

// AccountBalance is the free/locked balance of one asset.
type AccountBalance struct {
	Asset  string `json:"asset"`
	Free   float64
	Locked float64
}

type accountBalanceRaw struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountInfoRaw struct {
	CanTrade bool                `json:"canTrade"`
	Balances []accountBalanceRaw `json:"balances"`
}

// TradingMode is SPOT, MARGIN, or FUTURES.
type TradingMode string

const (
	ModeSpot    TradingMode = "SPOT"
	ModeMargin  TradingMode = "MARGIN"
	ModeFutures TradingMode = "FUTURES"
)

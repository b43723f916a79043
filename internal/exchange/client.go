package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	priceTimeout   = 10 * time.Second
	klinesTimeout  = 20 * time.Second
	orderTimeout   = 10 * time.Second
)

// Client is a Binance-style HMAC-signed REST client.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

var _ Gateway = (*Client)(nil)

// NewClient creates a new exchange client
func NewClient(apiKey, secretKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: orderTimeout},
	}
}

func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.baseURL, symbol)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, newError(ErrKindTransient, "Price", err)
	}

	var priceResp struct {
		Price float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, newError(ErrKindTransient, "Price", err)
	}
	return priceResp.Price, nil
}

func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	ctx, cancel := context.WithTimeout(ctx, klinesTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, params.Encode())
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, newError(ErrKindTransient, "Klines", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, newError(ErrKindTransient, "Klines", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		klines[i] = Kline{
			OpenTime:                 int64(raw[0].(float64)),
			Open:                     parseFloat(raw[1]),
			High:                     parseFloat(raw[2]),
			Low:                      parseFloat(raw[3]),
			Close:                    parseFloat(raw[4]),
			Volume:                   parseFloat(raw[5]),
			CloseTime:                int64(raw[6].(float64)),
			QuoteAssetVolume:         parseFloat(raw[7]),
			NumberOfTrades:           int(raw[8].(float64)),
			TakerBuyBaseAssetVolume:  parseFloat(raw[9]),
			TakerBuyQuoteAssetVolume: parseFloat(raw[10]),
		}
	}

	return klines, nil
}

func (c *Client) Balance(ctx context.Context, asset string, mode TradingMode) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	params := map[string]string{
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	body, err := c.signedGet(ctx, "/api/v3/account", params)
	if err != nil {
		return 0, newError(ErrKindTransient, "Balance", err)
	}

	var info accountInfoRaw
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, newError(ErrKindTransient, "Balance", err)
	}

	for _, b := range info.Balances {
		if b.Asset == asset {
			free, _ := strconv.ParseFloat(b.Free, 64)
			return free, nil
		}
	}
	return 0, nil
}

func (c *Client) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s", c.baseURL, symbol)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return SymbolFilters{}, newError(ErrKindTransient, "SymbolFilters", err)
	}

	var info exchangeInfoRaw
	if err := json.Unmarshal(body, &info); err != nil {
		return SymbolFilters{}, newError(ErrKindTransient, "SymbolFilters", err)
	}
	if len(info.Symbols) == 0 {
		return SymbolFilters{}, newError(ErrKindSymbol, "SymbolFilters", fmt.Errorf("symbol %s not found", symbol))
	}

	var filters SymbolFilters
	for _, f := range info.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			filters.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			filters.MaxQty, _ = strconv.ParseFloat(f.MaxQty, 64)
			filters.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
		case "MIN_NOTIONAL", "NOTIONAL":
			filters.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
		}
	}

	if filters.StepSize <= 0 {
		return SymbolFilters{}, newError(ErrKindFilter, "SymbolFilters", fmt.Errorf("symbol %s has no LOT_SIZE filter", symbol))
	}

	return filters, nil
}

func (c *Client) IsTradable(ctx context.Context, symbol string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s", c.baseURL, symbol)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return false, "", newError(ErrKindTransient, "IsTradable", err)
	}

	var info exchangeInfoRaw
	if err := json.Unmarshal(body, &info); err != nil {
		return false, "", newError(ErrKindTransient, "IsTradable", err)
	}
	if len(info.Symbols) == 0 {
		return false, "symbol not listed", nil
	}

	sym := info.Symbols[0]
	if sym.Status != "TRADING" {
		return false, fmt.Sprintf("symbol status is %s, not TRADING", sym.Status), nil
	}
	if !sym.IsSpotTradingAllowed {
		return false, "symbol does not allow spot trading", nil
	}
	return true, "", nil
}

func (c *Client) PlaceOrder(ctx context.Context, symbol, side string, quantity float64, mode TradingMode) (*OrderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	params := map[string]string{
		"symbol":    symbol,
		"side":      side,
		"type":      "MARKET",
		"quantity":  strconv.FormatFloat(quantity, 'f', 8, 64),
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}

	body, err := c.signedPost(ctx, "/api/v3/order", params)
	if err != nil {
		return nil, classifyOrderError("PlaceOrder", err)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, newError(ErrKindTransient, "PlaceOrder", err)
	}
	return &orderResp, nil
}

func (c *Client) OrderStatus(ctx context.Context, symbol string, orderID int64, mode TradingMode) (*OrderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	params := map[string]string{
		"symbol":    symbol,
		"orderId":   strconv.FormatInt(orderID, 10),
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}

	body, err := c.signedGet(ctx, "/api/v3/order", params)
	if err != nil {
		return nil, newError(ErrKindTransient, "OrderStatus", err)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, newError(ErrKindTransient, "OrderStatus", err)
	}
	return &orderResp, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	params := map[string]string{
		"symbol":    symbol,
		"orderId":   strconv.FormatInt(orderID, 10),
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	params["signature"] = c.sign(params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	endpoint := fmt.Sprintf("%s/api/v3/order", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = values.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newError(ErrKindTransient, "CancelOrder", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return newError(classifyStatus(resp.StatusCode), "CancelOrder", fmt.Errorf("%s", string(body)))
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) signedGet(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	params["signature"] = c.sign(params)
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) signedPost(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	params["signature"] = c.sign(params)
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	endpoint := fmt.Sprintf("%s%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = values.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// sign creates a signature for authenticated requests
func (c *Client) sign(params map[string]string) string {
	query := ""
	for k, v := range params {
		if k != "signature" {
			if query != "" {
				query += "&"
			}
			query += k + "=" + v
		}
	}

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		return ErrKindRate
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrKindPermission
	case status >= 500:
		return ErrKindTransient
	default:
		return ErrKindTransient
	}
}

func classifyOrderError(op string, err error) error {
	return newError(ErrKindTransient, op, err)
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}

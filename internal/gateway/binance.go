package gateway

// binance.go - signed REST client against a Binance-Futures-compatible
// venue (§6). Query parameters are URL-encoded in insertion order and
// signed with HMAC-SHA256, following the same shape as the teacher's
// OKX signer (timestamp+method+path+body) adapted to Binance's
// query-string-only signing convention.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"perpctl/pkg/ratelimit"
	"perpctl/pkg/retry"
	"perpctl/pkg/utils"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// BinanceConfig configures the signed REST client.
type BinanceConfig struct {
	RestBase   string
	APIKey     string
	APISecret  string
	RecvWindow int64 // ms, spec default 5000
}

// Binance implements Gateway against the fixed fapi contract (§6).
type Binance struct {
	cfg        BinanceConfig
	http       *HTTPClient
	limiter    *ratelimit.RateLimiter
	retryCfg   retry.Config
	timeOffset int64 // atomic, ms: server_time - local_time
	log        *utils.Logger
}

// NewBinance builds a Binance gateway client. The http client is the
// shared, pooled process-wide one (the teacher's GetGlobalHTTPClient
// pattern); each client gets its own rate limiter.
func NewBinance(cfg BinanceConfig) *Binance {
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}
	retryCfg := retry.NetworkConfig()
	retryCfg.RetryIf = Retryable
	return &Binance{
		cfg:      cfg,
		http:     GetGlobalHTTPClient(),
		limiter:  ratelimit.NewRateLimiter(20, 40),
		retryCfg: retryCfg,
		log:      utils.L().WithComponent("gateway"),
	}
}

// SyncTime calls /fapi/v1/time and stores the server/local clock drift,
// absorbed into every signed call's timestamp per spec §6.
func (b *Binance) SyncTime(ctx context.Context) error {
	start := time.Now()
	raw, err := b.doPublic(ctx, http.MethodGet, "/fapi/v1/time", nil)
	if err != nil {
		return err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := jsonAPI.Unmarshal(raw, &resp); err != nil {
		return NewError(ErrParse, "time", err)
	}
	rtt := time.Since(start).Milliseconds()
	local := time.Now().UnixMilli() - rtt/2
	atomic.StoreInt64(&b.timeOffset, resp.ServerTime-local)
	return nil
}

func (b *Binance) nowMs() int64 {
	return time.Now().UnixMilli() + atomic.LoadInt64(&b.timeOffset)
}

type kv struct {
	key, val string
}

func buildQuery(params []kv) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.val))
	}
	return strings.Join(parts, "&")
}

func (b *Binance) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *Binance) doPublic(ctx context.Context, method, path string, params []kv) ([]byte, error) {
	return b.do(ctx, method, path, params, false)
}

func (b *Binance) doSigned(ctx context.Context, method, path string, params []kv) ([]byte, error) {
	params = append(params,
		kv{"recvWindow", strconv.FormatInt(b.cfg.RecvWindow, 10)},
		kv{"timestamp", strconv.FormatInt(b.nowMs(), 10)},
	)
	return b.do(ctx, method, path, params, true)
}

func (b *Binance) do(ctx context.Context, method, path string, params []kv, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, NewError(ErrNetwork, "rate limiter wait", err)
	}

	query := buildQuery(params)
	reqURL := b.cfg.RestBase + path
	if signed {
		sig := b.sign(query)
		query = query + "&signature=" + sig
	}
	if query != "" {
		reqURL += "?" + query
	}

	return retry.DoWithResult(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, NewError(ErrParse, "build request", err)
		}
		if signed {
			req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
		}
		resp, err := b.http.Do(req)
		if err != nil {
			return nil, NewError(ErrNetwork, method+" "+path, err)
		}
		defer resp.Body.Close()
		body := make([]byte, 0, 512)
		buf := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				body = append(body, buf[:n]...)
			}
			if rerr != nil {
				break
			}
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, NewError(ErrAuth, string(body), nil)
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, NewError(ErrRateLimit, string(body), nil)
		case resp.StatusCode == http.StatusNotFound:
			return nil, NewError(ErrNotFound, string(body), nil)
		case resp.StatusCode >= 400:
			return nil, NewError(ErrRejected, string(body), nil)
		}
		return body, nil
	}, b.retryCfg)
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// ExchangeInfo implements Gateway.
func (b *Binance) ExchangeInfo(ctx context.Context) (map[string]SymbolFilter, error) {
	raw, err := b.doPublic(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				TickSize    string `json:"tickSize"`
				MinNotional string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := jsonAPI.Unmarshal(raw, &resp); err != nil {
		return nil, NewError(ErrParse, "exchangeInfo", err)
	}
	out := make(map[string]SymbolFilter, len(resp.Symbols))
	for _, s := range resp.Symbols {
		var f SymbolFilter
		for _, filt := range s.Filters {
			switch filt.FilterType {
			case "LOT_SIZE":
				f.StepSize = parseF(filt.StepSize)
				f.MinQty = parseF(filt.MinQty)
			case "PRICE_FILTER":
				f.TickSize = parseF(filt.TickSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				f.MinNotional = parseF(filt.MinNotional)
			}
		}
		out[s.Symbol] = f
	}
	return out, nil
}

// Tickers24h implements Gateway.
func (b *Binance) Tickers24h(ctx context.Context) ([]Ticker24h, error) {
	raw, err := b.doPublic(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol      string `json:"symbol"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := jsonAPI.Unmarshal(raw, &rows); err != nil {
		return nil, NewError(ErrParse, "ticker/24hr", err)
	}
	out := make([]Ticker24h, 0, len(rows))
	for _, r := range rows {
		out = append(out, Ticker24h{Symbol: r.Symbol, QuoteVolume: parseF(r.QuoteVolume)})
	}
	return out, nil
}

// BookTicker implements Gateway.
func (b *Binance) BookTicker(ctx context.Context, symbol string) (float64, float64, error) {
	raw, err := b.doPublic(ctx, http.MethodGet, "/fapi/v1/ticker/bookTicker", []kv{{"symbol", symbol}})
	if err != nil {
		return 0, 0, err
	}
	var resp struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := jsonAPI.Unmarshal(raw, &resp); err != nil {
		return 0, 0, NewError(ErrParse, "bookTicker", err)
	}
	return parseF(resp.BidPrice), parseF(resp.AskPrice), nil
}

// TickerPrice implements Gateway.
func (b *Binance) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	raw, err := b.doPublic(ctx, http.MethodGet, "/fapi/v1/ticker/price", []kv{{"symbol", symbol}})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err := jsonAPI.Unmarshal(raw, &resp); err != nil {
		return 0, NewError(ErrParse, "ticker/price", err)
	}
	return parseF(resp.Price), nil
}

// SetLeverage implements Gateway.
func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", []kv{
		{"symbol", symbol},
		{"leverage", strconv.Itoa(leverage)},
	})
	return err
}

// PlaceMarket implements Gateway.
func (b *Binance) PlaceMarket(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (OrderResult, error) {
	params := []kv{
		{"symbol", symbol},
		{"side", side},
		{"type", "MARKET"},
		{"quantity", strconv.FormatFloat(qty, 'f', -1, 64)},
	}
	if reduceOnly {
		params = append(params, kv{"reduceOnly", "true"})
	}
	raw, err := b.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return decodeOrder(raw)
}

// PlaceConditionalClose implements Gateway.
func (b *Binance) PlaceConditionalClose(ctx context.Context, symbol, side, orderType string, stopPrice, qty float64) (OrderResult, error) {
	params := []kv{
		{"symbol", symbol},
		{"side", side},
		{"type", orderType},
		{"stopPrice", strconv.FormatFloat(stopPrice, 'f', -1, 64)},
		{"quantity", strconv.FormatFloat(qty, 'f', -1, 64)},
		{"reduceOnly", "true"},
	}
	raw, err := b.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return decodeOrder(raw)
}

func decodeOrder(raw []byte) (OrderResult, error) {
	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := jsonAPI.Unmarshal(raw, &resp); err != nil {
		return OrderResult{}, NewError(ErrParse, "order", err)
	}
	return OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Status:      resp.Status,
		AvgPrice:    parseF(resp.AvgPrice),
		ExecutedQty: parseF(resp.ExecutedQty),
	}, nil
}

// CancelAll implements Gateway.
func (b *Binance) CancelAll(ctx context.Context, symbol string) error {
	_, err := b.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", []kv{{"symbol", symbol}})
	return err
}

// OpenOrders implements Gateway.
func (b *Binance) OpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	raw, err := b.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", []kv{{"symbol", symbol}})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := jsonAPI.Unmarshal(raw, &rows); err != nil {
		return nil, NewError(ErrParse, "openOrders", err)
	}
	out := make([]OrderResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, OrderResult{
			OrderID:     strconv.FormatInt(r.OrderID, 10),
			Status:      r.Status,
			AvgPrice:    parseF(r.AvgPrice),
			ExecutedQty: parseF(r.ExecutedQty),
		})
	}
	return out, nil
}

// Order implements Gateway.
func (b *Binance) Order(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	raw, err := b.doSigned(ctx, http.MethodGet, "/fapi/v1/order", []kv{
		{"symbol", symbol},
		{"orderId", orderID},
	})
	if err != nil {
		return OrderResult{}, err
	}
	return decodeOrder(raw)
}

// PositionRisk implements Gateway.
func (b *Binance) PositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := []kv{}
	path := "/fapi/v2/positionRisk"
	if symbol != "" {
		params = append(params, kv{"symbol", symbol})
	}
	raw, err := b.doSigned(ctx, http.MethodGet, path, params)
	if err != nil {
		// fallback per spec §6.
		raw, err = b.doSigned(ctx, http.MethodGet, "/fapi/v1/positionRisk", params)
		if err != nil {
			return nil, err
		}
	}
	var rows []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := jsonAPI.Unmarshal(raw, &rows); err != nil {
		return nil, NewError(ErrParse, "positionRisk", err)
	}
	out := make([]PositionRisk, 0, len(rows))
	for _, r := range rows {
		out = append(out, PositionRisk{
			Symbol:      r.Symbol,
			PositionAmt: parseF(r.PositionAmt),
			EntryPrice:  parseF(r.EntryPrice),
		})
	}
	return out, nil
}

// UserTrades implements Gateway.
func (b *Binance) UserTrades(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]UserTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := b.doSigned(ctx, http.MethodGet, "/fapi/v1/userTrades", []kv{
		{"symbol", symbol},
		{"startTime", strconv.FormatInt(startMs, 10)},
		{"endTime", strconv.FormatInt(endMs, 10)},
		{"limit", strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		OrderID         int64  `json:"orderId"`
		Side            string `json:"side"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
		RealizedPnl     string `json:"realizedPnl"`
		Time            int64  `json:"time"`
	}
	if err := jsonAPI.Unmarshal(raw, &rows); err != nil {
		return nil, NewError(ErrParse, "userTrades", err)
	}
	out := make([]UserTrade, 0, len(rows))
	for _, r := range rows {
		out = append(out, UserTrade{
			OrderID:         strconv.FormatInt(r.OrderID, 10),
			Side:            r.Side,
			Price:           parseF(r.Price),
			Qty:             parseF(r.Qty),
			Commission:      parseF(r.Commission),
			CommissionAsset: r.CommissionAsset,
			RealizedPnl:     parseF(r.RealizedPnl),
			TimeMs:          r.Time,
		})
	}
	return out, nil
}

var _ Gateway = (*Binance)(nil)

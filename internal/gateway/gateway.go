package gateway

import (
	"context"
	"time"
)

// Gateway is the typed surface the core invokes against a
// Binance-Futures-compatible venue. The signed HTTP client implementing it
// (binance.go) is an external collaborator per the specification: its
// request canonicalization, HMAC signing, and server-time offset are
// plumbing, not orchestration.
type Gateway interface {
	ExchangeInfo(ctx context.Context) (map[string]SymbolFilter, error)
	Tickers24h(ctx context.Context) ([]Ticker24h, error)
	BookTicker(ctx context.Context, symbol string) (bid, ask float64, err error)
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarket(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (OrderResult, error)
	PlaceConditionalClose(ctx context.Context, symbol, side, orderType string, stopPrice, qty float64) (OrderResult, error)
	CancelAll(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
	Order(ctx context.Context, symbol, orderID string) (OrderResult, error)
	PositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error)
	UserTrades(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]UserTrade, error)
}

// SymbolFilter is the subset of exchangeInfo the core needs per symbol.
type SymbolFilter struct {
	StepSize    float64
	MinQty      float64
	TickSize    float64
	MinNotional float64
}

// Ticker24h is one row of GET /fapi/v1/ticker/24hr.
type Ticker24h struct {
	Symbol      string
	QuoteVolume float64
}

// OrderResult is the normalized response of an order-placing or
// order-query call.
type OrderResult struct {
	OrderID     string
	Status      string
	AvgPrice    float64
	ExecutedQty float64
}

// PositionRisk is one row of GET /fapi/v2/positionRisk.
type PositionRisk struct {
	Symbol       string
	PositionAmt  float64
	EntryPrice   float64
}

// UserTrade is one row of GET /fapi/v1/userTrades.
type UserTrade struct {
	OrderID          string
	Side             string
	Price            float64
	Qty              float64
	Commission       float64
	CommissionAsset  string
	RealizedPnl      float64
	TimeMs           int64
}

// Time returns the trade's timestamp as a time.Time.
func (t UserTrade) Time() time.Time {
	return time.UnixMilli(t.TimeMs).UTC()
}

// ErrorKind tags the category of a Gateway failure, per the
// specification's error-handling design (§7).
type ErrorKind string

const (
	ErrNetwork         ErrorKind = "Network"
	ErrAuth            ErrorKind = "Auth"
	ErrRateLimit       ErrorKind = "RateLimit"
	ErrRejected        ErrorKind = "Rejected"
	ErrNotFound        ErrorKind = "NotFound"
	ErrParse           ErrorKind = "Parse"
	ErrLiveCapacity    ErrorKind = "LiveCapacity"
	ErrMinQty          ErrorKind = "MinQty"
	ErrMinNotional     ErrorKind = "MinNotional"
	ErrDeviation       ErrorKind = "Deviation"
	ErrOpenUnconfirmed ErrorKind = "OpenUnconfirmed"
	ErrCloseFailed     ErrorKind = "CloseFailed"
	ErrStreamStale     ErrorKind = "StreamStale"
)

// Error is a tagged Gateway/engine failure; Unwrap exposes the underlying
// transport or decode error for errors.Is/errors.As.
type Error struct {
	Kind     ErrorKind
	Message  string
	Original error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Original
}

// NewError builds an *Error, optionally wrapping an underlying cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Original: cause}
}

// Retryable reports whether the error kind warrants a retry via
// pkg/retry — transport-level and rate-limit failures are, rejection and
// validation failures are not.
func Retryable(err error) bool {
	var gerr *Error
	if !asError(err, &gerr) {
		return true
	}
	switch gerr.Kind {
	case ErrNetwork, ErrRateLimit:
		return true
	default:
		return false
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

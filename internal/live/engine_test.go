package live

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"perpctl/internal/gateway"
	"perpctl/internal/model"
	"perpctl/internal/tradelog"
)

type fakeGateway struct {
	filters map[string]gateway.SymbolFilter
	risk    []gateway.PositionRisk
	bid, ask float64
	marketOrders []string
	condOrders   []string
	trades       []gateway.UserTrade
}

func (f *fakeGateway) ExchangeInfo(ctx context.Context) (map[string]gateway.SymbolFilter, error) {
	return f.filters, nil
}
func (f *fakeGateway) Tickers24h(ctx context.Context) ([]gateway.Ticker24h, error) { return nil, nil }
func (f *fakeGateway) BookTicker(ctx context.Context, symbol string) (float64, float64, error) {
	return f.bid, f.ask, nil
}
func (f *fakeGateway) TickerPrice(ctx context.Context, symbol string) (float64, error) { return 0, nil }
func (f *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeGateway) PlaceMarket(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (gateway.OrderResult, error) {
	f.marketOrders = append(f.marketOrders, side)
	return gateway.OrderResult{OrderID: "entry-1", Status: "FILLED", AvgPrice: 100, ExecutedQty: qty}, nil
}
func (f *fakeGateway) PlaceConditionalClose(ctx context.Context, symbol, side, orderType string, stopPrice, qty float64) (gateway.OrderResult, error) {
	f.condOrders = append(f.condOrders, orderType)
	return gateway.OrderResult{OrderID: orderType + "-1"}, nil
}
func (f *fakeGateway) CancelAll(ctx context.Context, symbol string) error { return nil }
func (f *fakeGateway) OpenOrders(ctx context.Context, symbol string) ([]gateway.OrderResult, error) {
	return nil, nil
}
func (f *fakeGateway) Order(ctx context.Context, symbol, orderID string) (gateway.OrderResult, error) {
	return gateway.OrderResult{}, nil
}
func (f *fakeGateway) PositionRisk(ctx context.Context, symbol string) ([]gateway.PositionRisk, error) {
	return f.risk, nil
}
func (f *fakeGateway) UserTrades(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]gateway.UserTrade, error) {
	return f.trades, nil
}

func newTestEngine(t *testing.T, gw gateway.Gateway, cfg Config) *Engine {
	t.Helper()
	dir := t.TempDir()
	log := tradelog.New(filepath.Join(dir, "paper.csv"), filepath.Join(dir, "live.csv"))
	return NewEngine(gw, cfg, log)
}

func baseConfig() Config {
	return Config{
		NotionalUSD: 100, Leverage: 5, MaxDeviationPct: 0,
		TPPct: 1.0, SLPct: 1.0,
		PollSec: time.Millisecond, ProfitTimeoutSec: time.Hour, HardTimeoutSec: time.Hour,
		CloseRetries: 3, CloseRetrySleepSec: time.Millisecond,
	}
}

func TestOpenLivePlacesBrackets(t *testing.T) {
	gw := &fakeGateway{
		filters: map[string]gateway.SymbolFilter{"BTCUSDT": {StepSize: 0.001, MinQty: 0.001, TickSize: 0.1, MinNotional: 5}},
		risk:    []gateway.PositionRisk{{Symbol: "BTCUSDT", PositionAmt: 0.05, EntryPrice: 100}},
	}
	e := newTestEngine(t, gw, baseConfig())

	pos, err := e.OpenLive(context.Background(), "BTCUSDT", model.Long, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Entry != 100 {
		t.Errorf("got entry %v, want 100", pos.Entry)
	}
	if len(gw.condOrders) != 2 {
		t.Fatalf("expected 2 bracket orders, got %d: %v", len(gw.condOrders), gw.condOrders)
	}
	if !e.HasPosition() {
		t.Error("expected a tracked live position")
	}
}

func TestOpenLiveFailsMinQty(t *testing.T) {
	gw := &fakeGateway{
		filters: map[string]gateway.SymbolFilter{"BTCUSDT": {StepSize: 1, MinQty: 100, TickSize: 0.1, MinNotional: 5}},
	}
	cfg := baseConfig()
	cfg.NotionalUSD = 1
	e := newTestEngine(t, gw, cfg)

	_, err := e.OpenLive(context.Background(), "BTCUSDT", model.Long, 100)
	if err == nil {
		t.Fatal("expected MinQty failure")
	}
	var gerr *gateway.Error
	if asGatewayErr(err, &gerr) && gerr.Kind != gateway.ErrMinQty {
		t.Errorf("got kind %v, want MinQty", gerr.Kind)
	}
}

func TestOpenLiveFailsUnconfirmed(t *testing.T) {
	gw := &fakeGateway{
		filters: map[string]gateway.SymbolFilter{"BTCUSDT": {StepSize: 0.001, MinQty: 0.001, TickSize: 0.1, MinNotional: 5}},
		risk:    []gateway.PositionRisk{{Symbol: "BTCUSDT", PositionAmt: 0}},
	}
	e := newTestEngine(t, gw, baseConfig())

	_, err := e.OpenLive(context.Background(), "BTCUSDT", model.Long, 100)
	if err == nil {
		t.Fatal("expected OpenUnconfirmed failure")
	}
	if e.HasPosition() {
		t.Error("position should be dropped after unconfirmed open")
	}
}

func TestCloseLiveConfirmedSucceedsWhenFlat(t *testing.T) {
	gw := &fakeGateway{
		filters: map[string]gateway.SymbolFilter{"BTCUSDT": {StepSize: 0.001, MinQty: 0.001, TickSize: 0.1, MinNotional: 5}},
		risk:    []gateway.PositionRisk{{Symbol: "BTCUSDT", PositionAmt: 0.05, EntryPrice: 100}},
	}
	e := newTestEngine(t, gw, baseConfig())
	if _, err := e.OpenLive(context.Background(), "BTCUSDT", model.Long, 100); err != nil {
		t.Fatalf("setup open failed: %v", err)
	}

	gw.risk = nil // venue now reports flat
	if err := e.CloseLiveConfirmed(context.Background(), model.ReasonForceExit); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	if e.HasPosition() {
		t.Error("expected position cleared after confirmed close")
	}
}

func asGatewayErr(err error, target **gateway.Error) bool {
	ge, ok := err.(*gateway.Error)
	if ok {
		*target = ge
	}
	return ok
}

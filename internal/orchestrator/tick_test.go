package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"perpctl/internal/config"
	"perpctl/internal/gateway"
	"perpctl/internal/live"
	"perpctl/internal/model"
	"perpctl/internal/paper"
	"perpctl/internal/tradelog"
)

type stubGateway struct {
	gateway.Gateway
	filters map[string]gateway.SymbolFilter
	risk    []gateway.PositionRisk
}

func (s *stubGateway) ExchangeInfo(ctx context.Context) (map[string]gateway.SymbolFilter, error) {
	return s.filters, nil
}
func (s *stubGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (s *stubGateway) BookTicker(ctx context.Context, symbol string) (float64, float64, error) {
	return 100, 100.01, nil
}
func (s *stubGateway) PlaceMarket(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) (gateway.OrderResult, error) {
	return gateway.OrderResult{OrderID: "e1", AvgPrice: 100, ExecutedQty: qty}, nil
}
func (s *stubGateway) PlaceConditionalClose(ctx context.Context, symbol, side, orderType string, stopPrice, qty float64) (gateway.OrderResult, error) {
	return gateway.OrderResult{OrderID: orderType}, nil
}
func (s *stubGateway) CancelAll(ctx context.Context, symbol string) error { return nil }
func (s *stubGateway) PositionRisk(ctx context.Context, symbol string) ([]gateway.PositionRisk, error) {
	return s.risk, nil
}
func (s *stubGateway) UserTrades(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]gateway.UserTrade, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Signal: config.SignalConfig{
			ImpulseLookbackSec: 10 * time.Second,
			BreakoutBufferPct:  0.1,
			MaxSpreadPct:       100,
			MinATRPct:          0,
			TFSec:              60 * time.Second,
			LookbackMinutes:    30,
			ATRPeriod:          1,
		},
		Paper: config.PaperConfig{
			Enabled: true, TPPct: 1, SLPct: 1, MaxHoldingSec: time.Hour,
			LossStreakToArm: 1, TradeNotionalUSD: 100,
		},
		Live: config.LiveConfig{Enabled: false},
		Gateway: config.GatewayConfig{WSBase: "wss://example.invalid", WSMode: model.WSModeCombined},
	}
}

func newTestOrchestrator(t *testing.T, gw gateway.Gateway, cfg *config.Config) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	log := tradelog.New(filepath.Join(dir, "paper.csv"), filepath.Join(dir, "live.csv"))
	paperEng := paper.NewEngine(paper.Config{
		TPPct: cfg.Paper.TPPct, SLPct: cfg.Paper.SLPct, MaxHoldingSec: cfg.Paper.MaxHoldingSec,
		LossStreakToArm: cfg.Paper.LossStreakToArm, TradeNotionalUSD: cfg.Paper.TradeNotionalUSD,
	}, log)
	liveEng := live.NewEngine(gw, live.Config{
		NotionalUSD: 100, Leverage: 1, TPPct: 1, SLPct: 1,
		PollSec: time.Millisecond, ProfitTimeoutSec: time.Hour, HardTimeoutSec: time.Hour,
		CloseRetries: 1, CloseRetrySleepSec: time.Millisecond,
	}, log)
	return New(cfg, gw, paperEng, liveEng)
}

func TestHandleTradeTickOpensPaperOnImpulse(t *testing.T) {
	gw := &stubGateway{}
	o := newTestOrchestrator(t, gw, testConfig())
	o.spreadCache["BTCUSDT"] = 0.01 // a cached spread is required for any signal

	// Flat ticks across three buckets close enough bars for ATR(1).
	o.handleTradeTick("BTCUSDT", 100.00, 0)
	o.handleTradeTick("BTCUSDT", 100.00, 61_000)
	o.handleTradeTick("BTCUSDT", 100.00, 122_000)

	o.handleTradeTick("BTCUSDT", 100.00, 183_000)
	o.handleTradeTick("BTCUSDT", 100.20, 192_000) // +0.2% within the 10s lookback

	if !o.paperEng.HasPosition("BTCUSDT") {
		t.Fatal("expected a paper position to open on breakout impulse")
	}
}

func TestHandleTradeTickArmsOnLossStreak(t *testing.T) {
	gw := &stubGateway{}
	o := newTestOrchestrator(t, gw, testConfig())
	o.spreadCache["ETHUSDT"] = 0.01 // a cached spread is required for any signal

	// Warm enough closed bars for ATR(1), open, then force an SL-range
	// close to trip the single-loss arm threshold configured in testConfig
	// (LossStreakToArm=1).
	o.handleTradeTick("ETHUSDT", 100.00, 0)
	o.handleTradeTick("ETHUSDT", 100.00, 61_000)
	o.handleTradeTick("ETHUSDT", 100.00, 122_000)
	o.handleTradeTick("ETHUSDT", 100.00, 183_000)
	o.handleTradeTick("ETHUSDT", 100.20, 192_000) // opens LONG entry=100.20 sl=99.198
	o.handleTradeTick("ETHUSDT", 99.00, 203_000)  // crosses sl, should close+arm

	fs := o.paperEng.FreezeState()
	if !fs.Armed() || fs.TriggerSymbol != "ETHUSDT" {
		t.Fatalf("expected freeze armed on ETHUSDT, got %+v", fs)
	}
}

// Package live drives the single real-money position: entry sizing,
// on-exchange bracket orders, reconciliation against the venue's position
// store, deadline handling, and retry-confirmed close.
package live

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"perpctl/internal/gateway"
	"perpctl/internal/model"
	"perpctl/internal/tradelog"
	"perpctl/pkg/utils"
)

// Config is the subset of live-sizing, watch-deadline, and retry options
// the engine needs.
type Config struct {
	NotionalUSD     float64
	Leverage        int
	MaxDeviationPct float64
	TPPct           float64
	SLPct           float64

	PollSec                     time.Duration
	ProfitTimeoutSec            time.Duration
	HardTimeoutSec              time.Duration
	EmergencyCloseOnHardTimeout bool

	CloseRetries       int
	CloseRetrySleepSec time.Duration
	ReconcileEverySec  time.Duration
}

// SettleResult is the outcome of a closed live trade, for logging and for
// the orchestrator's post-close reset.
type SettleResult struct {
	Symbol       string
	Side         model.Side
	Entry        float64
	Exit         float64
	Qty          float64
	Leverage     int
	PnLPct       float64
	NetPnLUSD    float64
	Outcome      string
	Reason       model.CloseReason
	OrderIDEntry string
	OrderIDExit  string
}

// Engine holds at most one active live position. All state changes funnel
// through open_live and watch_until_close, which the orchestrator runs
// sequentially — never concurrently — per the single-writer discipline.
type Engine struct {
	gw  gateway.Gateway
	cfg Config
	log *tradelog.Writer

	filters   map[string]model.SymbolFilters
	leveraged map[string]bool

	position       *model.LivePosition
	closedSnapshot *model.LivePosition

	// hasPosition mirrors (position != nil) for HasPosition, which the
	// heartbeat loop reads from a different goroutine than the one
	// driving open_live/watch_until_close.
	hasPosition atomic.Bool
}

// NewEngine builds a live Engine against gw.
func NewEngine(gw gateway.Gateway, cfg Config, log *tradelog.Writer) *Engine {
	return &Engine{
		gw:        gw,
		cfg:       cfg,
		log:       log,
		filters:   make(map[string]model.SymbolFilters),
		leveraged: make(map[string]bool),
	}
}

// HasPosition reports whether a live position is currently held. Safe to
// call concurrently with open_live/watch_until_close (e.g. from the
// heartbeat loop).
func (e *Engine) HasPosition() bool {
	return e.hasPosition.Load()
}

// setPosition updates e.position and keeps hasPosition in sync.
func (e *Engine) setPosition(pos *model.LivePosition) {
	e.position = pos
	e.hasPosition.Store(pos != nil)
}

func (e *Engine) ensureFilters(ctx context.Context, symbol string) (model.SymbolFilters, error) {
	if f, ok := e.filters[symbol]; ok {
		return f, nil
	}
	info, err := e.gw.ExchangeInfo(ctx)
	if err != nil {
		return model.SymbolFilters{}, gateway.NewError(gateway.ErrNetwork, "exchangeInfo", err)
	}
	sf, ok := info[symbol]
	if !ok {
		return model.SymbolFilters{}, gateway.NewError(gateway.ErrNotFound, "no filters for "+symbol, nil)
	}
	f := model.SymbolFilters{StepSize: sf.StepSize, MinQty: sf.MinQty, TickSize: sf.TickSize, MinNotional: sf.MinNotional}
	e.filters[symbol] = f
	return f, nil
}

// OpenLive opens a live position on symbol in the given side at
// approximately lastPrice. It fails (LiveCapacity) if a live position
// already exists once reconciled against the venue.
func (e *Engine) OpenLive(ctx context.Context, symbol string, side model.Side, lastPrice float64) (model.LivePosition, error) {
	if e.position != nil {
		if err := e.Reconcile(ctx, symbol); err != nil {
			return model.LivePosition{}, err
		}
		if e.position != nil {
			return model.LivePosition{}, gateway.NewError(gateway.ErrLiveCapacity, "a live position is already open", nil)
		}
	}

	filters, err := e.ensureFilters(ctx, symbol)
	if err != nil {
		return model.LivePosition{}, err
	}
	if !e.leveraged[symbol] {
		if err := e.gw.SetLeverage(ctx, symbol, e.cfg.Leverage); err != nil {
			return model.LivePosition{}, err
		}
		e.leveraged[symbol] = true
	}

	if e.cfg.MaxDeviationPct > 0 {
		bid, ask, err := e.gw.BookTicker(ctx, symbol)
		if err == nil && bid > 0 && ask > 0 {
			mid := (bid + ask) / 2
			devPct := absF(lastPrice-mid) / mid * 100
			if devPct > e.cfg.MaxDeviationPct {
				return model.LivePosition{}, gateway.NewError(gateway.ErrDeviation, fmt.Sprintf("deviation %.4f%% exceeds max %.4f%%", devPct, e.cfg.MaxDeviationPct), nil)
			}
		}
	}

	qtyRaw := e.cfg.NotionalUSD * float64(e.cfg.Leverage) / lastPrice
	qty := utils.RoundToLotSize(qtyRaw, filters.StepSize)
	if qty < filters.MinQty {
		return model.LivePosition{}, gateway.NewError(gateway.ErrMinQty, fmt.Sprintf("qty %.8f below minQty %.8f", qty, filters.MinQty), nil)
	}
	if qty*lastPrice*float64(e.cfg.Leverage) < filters.MinNotional {
		return model.LivePosition{}, gateway.NewError(gateway.ErrMinNotional, "order below minNotional", nil)
	}

	entryResult, err := e.gw.PlaceMarket(ctx, symbol, side.Entry(), qty, false)
	if err != nil {
		return model.LivePosition{}, err
	}

	entry := entryResult.AvgPrice
	if entry <= 0 {
		entry = lastPrice
	}
	pos := model.LivePosition{
		Symbol: symbol, Side: side, Entry: entry, Qty: qty,
		OpenedAt: time.Now(), EntryOrder: entryResult.OrderID,
	}
	e.setPosition(&pos)

	risks, err := e.gw.PositionRisk(ctx, symbol)
	if err != nil || !positionAmtNonZero(risks, symbol) {
		e.setPosition(nil)
		return model.LivePosition{}, gateway.NewError(gateway.ErrOpenUnconfirmed, "position not confirmed after market order", err)
	}
	// Remote is the source of truth for entry/qty going forward.
	e.applyRemote(risks, symbol)

	if err := e.placeBrackets(ctx, symbol); err != nil {
		return *e.position, err
	}

	utils.Infof("LIVE OPEN %s %s entry=%.6f qty=%.8f", symbol, side, e.position.Entry, e.position.Qty)
	return *e.position, nil
}

func (e *Engine) placeBrackets(ctx context.Context, symbol string) error {
	filters := e.filters[symbol]
	pos := e.position

	var tp, sl float64
	if pos.Side == model.Long {
		tp = pos.Entry * (1 + e.cfg.TPPct/100)
		sl = pos.Entry * (1 - e.cfg.SLPct/100)
	} else {
		tp = pos.Entry * (1 - e.cfg.TPPct/100)
		sl = pos.Entry * (1 + e.cfg.SLPct/100)
	}
	tp = utils.RoundToLotSize(tp, filters.TickSize)
	sl = utils.RoundToLotSize(sl, filters.TickSize)

	_ = e.gw.CancelAll(ctx, symbol)

	closeSide := pos.Side.Opposite()
	tpOrder, err := e.gw.PlaceConditionalClose(ctx, symbol, closeSide, "TAKE_PROFIT_MARKET", tp, pos.Qty)
	if err != nil {
		return err
	}
	slOrder, err := e.gw.PlaceConditionalClose(ctx, symbol, closeSide, "STOP_MARKET", sl, pos.Qty)
	if err != nil {
		return err
	}
	pos.TPOrder = tpOrder.OrderID
	pos.SLOrder = slOrder.OrderID
	return nil
}

// Reconcile refreshes the local position from position_risk, dropping it
// if the venue reports flat.
func (e *Engine) Reconcile(ctx context.Context, symbol string) error {
	risks, err := e.gw.PositionRisk(ctx, symbol)
	if err != nil {
		return err
	}
	e.applyRemote(risks, symbol)
	return nil
}

func (e *Engine) applyRemote(risks []gateway.PositionRisk, symbol string) {
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		if r.PositionAmt == 0 {
			e.setPosition(nil)
			return
		}
		if e.position == nil {
			e.setPosition(&model.LivePosition{Symbol: symbol, OpenedAt: time.Now()})
		}
		if r.PositionAmt > 0 {
			e.position.Side = model.Long
		} else {
			e.position.Side = model.Short
		}
		e.position.Qty = absF(r.PositionAmt)
		e.position.Entry = r.EntryPrice
		return
	}
	e.setPosition(nil)
}

func positionAmtNonZero(risks []gateway.PositionRisk, symbol string) bool {
	for _, r := range risks {
		if r.Symbol == symbol && r.PositionAmt != 0 {
			return true
		}
	}
	return false
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

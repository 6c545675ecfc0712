package live

import (
	"context"
	"time"

	"perpctl/internal/gateway"
	"perpctl/internal/model"
	"perpctl/internal/tradelog"
	"perpctl/pkg/utils"
)

// PriceFunc returns the latest known price for symbol, for the
// profit-timeout sample; ok is false if no price is cached yet.
type PriceFunc func(symbol string) (price float64, ok bool)

// WatchUntilClose is the single monitor for the active live position. It
// polls position_risk every cfg.PollSec, maintains the independent
// profit-timeout and hard-timeout deadlines from open time, and returns
// once the position is confirmed closed. ctx cancellation drives a
// confirmed FORCE_EXIT close.
func (e *Engine) WatchUntilClose(ctx context.Context, lastPrice PriceFunc) (SettleResult, error) {
	if e.position == nil {
		return SettleResult{}, gateway.NewError(gateway.ErrNotFound, "no live position to watch", nil)
	}
	symbol := e.position.Symbol
	t0 := e.position.OpenedAt
	profitDeadline := t0.Add(e.cfg.ProfitTimeoutSec)
	hardDeadline := t0.Add(e.cfg.HardTimeoutSec)
	profitFired := false

	ticker := time.NewTicker(e.cfg.PollSec)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.closeAndSettle(context.Background(), model.ReasonForceExit)

		case <-ticker.C:
			preReconcile := *e.position
			if err := e.Reconcile(ctx, symbol); err != nil {
				utils.Warnf("live watch reconcile error for %s: %v", symbol, err)
				continue
			}
			if e.position == nil {
				e.closedSnapshot = &preReconcile
				return e.settle(ctx, symbol, t0, model.ReasonUnknownOrStop, "", "")
			}

			now := time.Now()
			if !profitFired && !now.Before(profitDeadline) {
				profitFired = true
				if price, ok := lastPrice(symbol); ok {
					pnlPct, _ := utils.CalculatePNL(string(e.position.Side), e.position.Entry, price, e.position.Qty)
					if pnlPct > 0 {
						return e.closeAndSettle(ctx, model.ReasonTimeoutProfit)
					}
				}
			}
			if !now.Before(hardDeadline) {
				if e.cfg.EmergencyCloseOnHardTimeout {
					return e.closeAndSettle(ctx, model.ReasonTimeoutHard)
				}
				utils.Infof("live position on %s past hard timeout, left open under brackets", symbol)
				hardDeadline = now.Add(e.cfg.HardTimeoutSec)
			}
		}
	}
}

// closeAndSettle drives a confirmed close then settles the trade.
func (e *Engine) closeAndSettle(ctx context.Context, reason model.CloseReason) (SettleResult, error) {
	symbol := e.position.Symbol
	t0 := e.position.OpenedAt
	if err := e.CloseLiveConfirmed(ctx, reason); err != nil {
		return SettleResult{}, err
	}
	return e.settle(ctx, symbol, t0, reason, "", "")
}

// settle queries user_trades for the exit fill, refines the close reason
// against the stored bracket order ids, derives pnl, and writes a live log
// row.
func (e *Engine) settle(ctx context.Context, symbol string, openedAt time.Time, reason model.CloseReason, fallbackExit string, _ string) (SettleResult, error) {
	_ = e.gw.CancelAll(ctx, symbol)

	entry, qty, side, entryOrder, tpOrder, slOrder := e.lastKnown(symbol)

	startMs := openedAt.Add(-10 * time.Second).UnixMilli()
	endMs := time.Now().UnixMilli()
	trades, err := e.gw.UserTrades(ctx, symbol, startMs, endMs, 50)

	var exitPrice float64
	var exitOrderID string
	var realizedPnl float64
	haveExit := false
	if err == nil {
		for _, tr := range trades {
			if tr.OrderID == entryOrder {
				continue
			}
			if !haveExit || tr.TimeMs > 0 {
				exitPrice = tr.Price
				exitOrderID = tr.OrderID
				realizedPnl = tr.RealizedPnl
				haveExit = true
			}
		}
	}

	var pnlPct, netPnl float64
	if haveExit {
		pnlPct, _ = utils.CalculatePNL(string(side), entry, exitPrice, qty)
		netPnl = realizedPnl
		if netPnl == 0 {
			_, netPnl = utils.CalculatePNL(string(side), entry, exitPrice, qty)
		}
	} else {
		exitPrice = entry
		pnlPct = 0
		netPnl = 0
	}

	switch {
	case haveExit && exitOrderID == tpOrder:
		reason = model.ReasonTPExchange
	case haveExit && exitOrderID == slOrder:
		reason = model.ReasonSLExchange
	}

	outcome := "loss"
	if pnlPct >= 0 {
		outcome = "profit"
	}

	result := SettleResult{
		Symbol: symbol, Side: side, Entry: entry, Exit: exitPrice, Qty: qty,
		Leverage: e.cfg.Leverage, PnLPct: pnlPct, NetPnLUSD: netPnl,
		Outcome: outcome, Reason: reason, OrderIDEntry: entryOrder, OrderIDExit: exitOrderID,
	}

	e.log.AppendLive(tradelog.LiveEvent{
		Ts: time.Now(), Symbol: symbol, Side: string(side), Entry: entry, Exit: exitPrice,
		Qty: qty, Leverage: e.cfg.Leverage, PnLPct: pnlPct, NetPnLUSD: netPnl,
		Outcome: outcome, Reason: string(reason), OrderIDEntry: entryOrder, OrderIDExit: exitOrderID,
	})
	utils.Infof("LIVE CLOSE %s %s exit=%.6f pnl_pct=%.4f reason=%s", symbol, side, exitPrice, pnlPct, reason)

	return result, nil
}

// lastKnown snapshots the position fields this watch episode needs after
// CloseLiveConfirmed has already cleared e.position.
func (e *Engine) lastKnown(symbol string) (entry, qty float64, side model.Side, entryOrder, tpOrder, slOrder string) {
	if e.closedSnapshot != nil && e.closedSnapshot.Symbol == symbol {
		p := e.closedSnapshot
		return p.Entry, p.Qty, p.Side, p.EntryOrder, p.TPOrder, p.SLOrder
	}
	if e.position != nil {
		p := e.position
		return p.Entry, p.Qty, p.Side, p.EntryOrder, p.TPOrder, p.SLOrder
	}
	return 0, 0, "", "", "", ""
}

// CloseLiveConfirmed retries a reduce-only market close until position_risk
// reports flat, or gives up after cfg.CloseRetries attempts.
func (e *Engine) CloseLiveConfirmed(ctx context.Context, reason model.CloseReason) error {
	if e.position == nil {
		return nil
	}
	symbol := e.position.Symbol
	snapshot := *e.position
	e.closedSnapshot = &snapshot

	for attempt := 0; attempt < e.cfg.CloseRetries; attempt++ {
		risks, err := e.gw.PositionRisk(ctx, symbol)
		if err == nil && !positionAmtNonZero(risks, symbol) {
			e.setPosition(nil)
			return nil
		}

		qty := snapshot.Qty
		for _, r := range risks {
			if r.Symbol == symbol && r.PositionAmt != 0 {
				qty = absF(r.PositionAmt)
			}
		}
		if f, ok := e.filters[symbol]; ok {
			qty = utils.RoundToLotSize(qty, f.StepSize)
		}

		_, placeErr := e.gw.PlaceMarket(ctx, symbol, snapshot.Side.Opposite(), qty, true)
		if placeErr != nil {
			utils.Warnf("close_live_confirmed attempt %d for %s: %v", attempt+1, symbol, placeErr)
		}

		time.Sleep(e.cfg.CloseRetrySleepSec)

		risks, err = e.gw.PositionRisk(ctx, symbol)
		if err == nil && !positionAmtNonZero(risks, symbol) {
			e.setPosition(nil)
			return nil
		}
	}

	return gateway.NewError(gateway.ErrCloseFailed, "exhausted close retries for "+symbol, nil)
}

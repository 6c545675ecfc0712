package orchestrator

import (
	"context"
	"time"

	"perpctl/internal/indicator"
	"perpctl/internal/model"
	"perpctl/pkg/utils"
)

// handleTradeTick is the signal-routing path described in the
// specification: it updates buffers/indicators, asks the paper engine to
// close-on-price first, computes a signal, and either opens a paper
// position or — while frozen and the tick is on the trigger symbol —
// launches the single live-open-and-watch flow.
//
// Ticks arrive one at a time off the stream's single read loop, so this
// naturally serializes per-symbol tick handling, but the live flow itself
// is launched on its own goroutine (see below) rather than run inline.
func (o *Orchestrator) handleTradeTick(symbol string, price float64, tsMs int64) {
	start := time.Now()
	o.lastTickMs.Store(tsMs)
	o.recordPrice(symbol, price)
	ticksProcessed.WithLabelValues(symbol).Inc()

	st := o.indicatorFor(symbol)
	st.OnTrade(tsMs, price)

	now := time.Unix(0, tsMs*int64(time.Millisecond))
	if res, closed := o.paperEng.CheckClose(symbol, price, now); closed {
		paperEvents.WithLabelValues("CLOSE", string(res.Reason)).Inc()
	}

	spreadPct, haveSpread := o.cachedSpread(symbol)
	gate := indicator.GateParams{
		BreakoutBufferPct: o.cfg.Signal.BreakoutBufferPct,
		MinATRPct:         o.cfg.Signal.MinATRPct,
		MaxSpreadPct:      o.cfg.Signal.MaxSpreadPct,
		ATRPeriod:         o.cfg.Signal.ATRPeriod,
	}
	sig := indicator.Evaluate(st, tsMs, o.cfg.Signal.ImpulseLookbackSec.Milliseconds(), price, spreadPct, haveSpread, gate)
	tickToSignalLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)

	side, hasSignal := sig.Side()

	freeze := o.paperEng.FreezeState()
	if !freeze.FreezePaperEntries {
		if hasSignal && o.paperEng.CanOpen(symbol, now) {
			o.paperEng.Open(symbol, side, price, now)
			paperEvents.WithLabelValues("OPEN", "").Inc()
		}
		return
	}

	// Frozen: only the trigger symbol, and only while it has no open
	// paper position of its own, may proceed to a live attempt.
	if symbol != freeze.TriggerSymbol || o.paperEng.HasPosition(freeze.TriggerSymbol) {
		return
	}
	if !hasSignal {
		return
	}

	// The live-open-and-watch flow is its own logical task (per the
	// specification): it runs on its own goroutine, off the stream's read
	// loop, so tick ingestion — and with it last_price updates, other
	// symbols' paper TP/SL/timeout closes, and the watchdog's staleness
	// feed — keeps running while a live position is open for potentially
	// hours. liveFlowActive keeps this serialized to at most one flow,
	// since a repeated trigger-symbol tick would otherwise race a second
	// flow in before the first has opened a position.
	if !o.liveFlowActive.CompareAndSwap(false, true) {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.liveFlowActive.Store(false)
		o.runLiveFlow(o.runCtx, symbol, side, price)
	}()
}

// runLiveFlow drives open_live then watch_until_close to completion and
// resets the paper streaks only after a confirmed close (or at once when
// live trading is disabled); an open or watch failure leaves the paper
// engine frozen. ctx is
// the orchestrator's run context, so cancelling it on shutdown reaches
// watch_until_close's FORCE_EXIT branch instead of leaving the flow
// running past process shutdown.
func (o *Orchestrator) runLiveFlow(ctx context.Context, symbol string, side model.Side, price float64) {
	if !o.cfg.Live.Enabled {
		o.paperEng.ResetAllStreaks()
		return
	}

	_, err := o.liveEng.OpenLive(ctx, symbol, side, price)
	if err != nil {
		o.log.Warn("live open failed, staying frozen", utils.Symbol(symbol), utils.Err(err))
		liveEvents.WithLabelValues("failed", "open_error").Inc()
		return
	}

	result, err := o.liveEng.WatchUntilClose(ctx, o.priceFunc)
	if err != nil {
		// CloseFailed (and any other watch error) keeps the frozen state
		// to prevent an immediate second live attempt; the operator must
		// inspect logs. Streaks are only reset on a confirmed close.
		o.log.Warn("live watch failed, staying frozen", utils.Symbol(symbol), utils.Err(err))
		liveEvents.WithLabelValues("failed", "watch_error").Inc()
		return
	}
	liveEvents.WithLabelValues(result.Outcome, string(result.Reason)).Inc()
	o.paperEng.ResetAllStreaks()
}

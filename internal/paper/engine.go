// Package paper runs the shadow strategy: per-symbol paper positions with
// TP/SL/timeout closes, a loss-streak counter, and the global freeze/arm
// mechanism that gates promotion of a signal to the live engine.
package paper

import (
	"sync"
	"time"

	"perpctl/internal/model"
	"perpctl/internal/tradelog"
	"perpctl/pkg/utils"
)

// Config is the subset of paper-behavior options the engine needs.
type Config struct {
	TPPct              float64
	SLPct              float64
	MaxHoldingSec      time.Duration
	MaxTradesPerHour   int
	CooldownAfterTrade time.Duration
	LossStreakToArm    int
	TradeNotionalUSD   float64
}

// CloseResult is returned from Close for the orchestrator to log and act
// on.
type CloseResult struct {
	Symbol     string
	Side       model.Side
	Entry      float64
	Exit       float64
	TP         float64
	SL         float64
	PnLPct     float64
	NetPnLUSD  float64
	Reason     model.CloseReason
	Armed      bool
}

// Engine owns every paper position, the streak table, and the freeze
// state behind a single mutex, per the single-writer concurrency
// discipline: positions are mutated only on the tick path or the
// paper-timeout sweeper, never concurrently.
type Engine struct {
	cfg Config
	log *tradelog.Writer

	mu          sync.Mutex
	positions   map[string]model.PaperPosition
	streaks     map[string]int
	freeze      model.FreezeState
	lastClose   map[string]time.Time
	recentOpens map[string][]time.Time
}

// NewEngine builds a paper Engine writing OPEN/CLOSE events to log.
func NewEngine(cfg Config, log *tradelog.Writer) *Engine {
	return &Engine{
		cfg:         cfg,
		log:         log,
		positions:   make(map[string]model.PaperPosition),
		streaks:     make(map[string]int),
		lastClose:   make(map[string]time.Time),
		recentOpens: make(map[string][]time.Time),
	}
}

// FreezeState returns a snapshot of the current freeze/arm state.
func (e *Engine) FreezeState() model.FreezeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freeze
}

// HasPosition reports whether symbol currently has an open paper position.
func (e *Engine) HasPosition(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.positions[symbol]
	return ok
}

// CanOpen reports whether a new paper position may be opened on symbol
// right now: not frozen, no existing position, cooldown elapsed, and
// under the hourly-open cap.
func (e *Engine) CanOpen(symbol string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canOpenLocked(symbol, now)
}

func (e *Engine) canOpenLocked(symbol string, now time.Time) bool {
	if e.freeze.FreezePaperEntries {
		return false
	}
	if _, open := e.positions[symbol]; open {
		return false
	}
	if last, ok := e.lastClose[symbol]; ok && now.Sub(last) < e.cfg.CooldownAfterTrade {
		return false
	}
	if e.cfg.MaxTradesPerHour > 0 {
		opens := pruneOlderThan(e.recentOpens[symbol], now.Add(-time.Hour))
		e.recentOpens[symbol] = opens
		if len(opens) >= e.cfg.MaxTradesPerHour {
			return false
		}
	}
	return true
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return append([]time.Time(nil), out...)
}

// Open records a new paper position, deriving tp/sl from entry and the
// configured percentages.
func (e *Engine) Open(symbol string, side model.Side, entry float64, now time.Time) model.PaperPosition {
	e.mu.Lock()
	defer e.mu.Unlock()

	var tp, sl float64
	if side == model.Long {
		tp = entry * (1 + e.cfg.TPPct/100)
		sl = entry * (1 - e.cfg.SLPct/100)
	} else {
		tp = entry * (1 - e.cfg.TPPct/100)
		sl = entry * (1 + e.cfg.SLPct/100)
	}

	pos := model.PaperPosition{Symbol: symbol, Side: side, Entry: entry, TP: tp, SL: sl, OpenedAt: now}
	e.positions[symbol] = pos
	e.recentOpens[symbol] = append(e.recentOpens[symbol], now)

	e.log.AppendPaper(tradelog.PaperEvent{
		Ts: now, Symbol: symbol, Side: string(side), Event: "OPEN",
		Entry: entry, TP: tp, SL: sl,
	})
	utils.Infof("OPEN %s %s entry=%.6f tp=%.6f sl=%.6f", symbol, side, entry, tp, sl)
	return pos
}

// CheckClose evaluates the TP/SL/TIMEOUT triggers for symbol's paper
// position against price at now, closing it if any trigger fires. ok is
// false when there was nothing to close.
func (e *Engine) CheckClose(symbol string, price float64, now time.Time) (CloseResult, bool) {
	e.mu.Lock()
	pos, open := e.positions[symbol]
	if !open {
		e.mu.Unlock()
		return CloseResult{}, false
	}
	reason, fire := closeTrigger(pos, price, now, e.cfg.MaxHoldingSec)
	if !fire {
		e.mu.Unlock()
		return CloseResult{}, false
	}
	e.mu.Unlock()
	return e.closeLocked(symbol, pos, price, reason, now)
}

func closeTrigger(pos model.PaperPosition, price float64, now time.Time, maxHolding time.Duration) (model.CloseReason, bool) {
	if pos.Side == model.Long {
		if price >= pos.TP {
			return model.ReasonTP, true
		}
		if price <= pos.SL {
			return model.ReasonSL, true
		}
	} else {
		if price <= pos.TP {
			return model.ReasonTP, true
		}
		if price >= pos.SL {
			return model.ReasonSL, true
		}
	}
	if pos.Age(now) >= maxHolding {
		return model.ReasonTimeout, true
	}
	return "", false
}

// Close force-closes symbol's paper position with the given reason
// (invoked by the paper-timeout sweeper outside the tick path). ok is
// false if the position was no longer present (already closed on the
// tick path).
func (e *Engine) Close(symbol string, price float64, reason model.CloseReason, now time.Time) (CloseResult, bool) {
	e.mu.Lock()
	pos, open := e.positions[symbol]
	if !open {
		e.mu.Unlock()
		return CloseResult{}, false
	}
	e.mu.Unlock()
	return e.closeLocked(symbol, pos, price, reason, now)
}

// closeLocked performs the close side effects for a position the caller
// has already verified was open under e.mu. Since the caller releases
// e.mu between that check and this call, the tick path and the
// paper-timeout sweeper can both pass the check for the same symbol in
// overlapping windows; re-checking presence here under the re-acquired
// lock ensures only the first one through actually closes it.
func (e *Engine) closeLocked(symbol string, pos model.PaperPosition, price float64, reason model.CloseReason, now time.Time) (CloseResult, bool) {
	notionalQty := e.cfg.TradeNotionalUSD / pos.Entry
	pnlPct, pnlAbs := utils.CalculatePNL(string(pos.Side), pos.Entry, price, notionalQty)

	e.mu.Lock()
	if _, ok := e.positions[symbol]; !ok {
		e.mu.Unlock()
		return CloseResult{}, false
	}
	delete(e.positions, symbol)
	e.lastClose[symbol] = now
	armed := e.updateStreakLocked(symbol, reason, pnlPct)
	e.mu.Unlock()

	e.log.AppendPaper(tradelog.PaperEvent{
		Ts: now, Symbol: symbol, Side: string(pos.Side), Event: "CLOSE",
		Entry: pos.Entry, Exit: price, TP: pos.TP, SL: pos.SL,
		PnLPct: pnlPct, NetPnLUSD: pnlAbs, Reason: string(reason),
	})
	utils.Infof("CLOSE %s %s exit=%.6f pnl_pct=%.4f reason=%s", symbol, pos.Side, price, pnlPct, reason)

	return CloseResult{
		Symbol: symbol, Side: pos.Side, Entry: pos.Entry, Exit: price,
		TP: pos.TP, SL: pos.SL, PnLPct: pnlPct, NetPnLUSD: pnlAbs,
		Reason: reason, Armed: armed,
	}, true
}

// updateStreakLocked applies the streak-update rule and, if the arm
// predicate is met, latches the freeze/arm state. Must be called with
// e.mu held.
func (e *Engine) updateStreakLocked(symbol string, reason model.CloseReason, pnlPct float64) bool {
	if e.freeze.FreezeStreakUpdate {
		return false
	}
	switch reason {
	case model.ReasonTP:
		e.streaks[symbol] = 0
	case model.ReasonSL:
		e.streaks[symbol]++
	default:
		if pnlPct <= 0 {
			e.streaks[symbol]++
		} else {
			e.streaks[symbol] = 0
		}
	}

	if !e.freeze.FreezePaperEntries && e.streaks[symbol] >= e.cfg.LossStreakToArm {
		e.freeze = model.FreezeState{FreezePaperEntries: true, FreezeStreakUpdate: true, TriggerSymbol: symbol}
		utils.Infof("ARM trigger_symbol=%s streak=%d", symbol, e.streaks[symbol])
		return true
	}
	return false
}

// TimedOutPositions returns a snapshot of symbols whose paper position age
// has reached MaxHoldingSec as of now, for the paper-timeout sweeper. The
// sweeper must re-check each via Close, since the tick path may have
// closed it first.
func (e *Engine) TimedOutPositions(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0)
	for symbol, pos := range e.positions {
		if pos.Age(now) >= e.cfg.MaxHoldingSec {
			out = append(out, symbol)
		}
	}
	return out
}

// ResetAllStreaks zeroes every streak and clears the freeze/trigger
// fields. Called by the orchestrator after a confirmed live close, or on
// a trigger-symbol signal when live trading is disabled.
func (e *Engine) ResetAllStreaks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for s := range e.streaks {
		e.streaks[s] = 0
	}
	e.freeze = model.FreezeState{}
	utils.Info("RESET all streaks cleared, freeze lifted")
}

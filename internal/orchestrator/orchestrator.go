// Package orchestrator wires the gateway, universe builder, indicator and
// signal engine, and the paper/live engines into the concurrent pipeline
// described by the specification: a trade-tick fan-in that routes
// signals to paper or live, plus the supervisor tasks that keep the whole
// thing healthy.
package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"perpctl/internal/config"
	"perpctl/internal/gateway"
	"perpctl/internal/indicator"
	"perpctl/internal/live"
	"perpctl/internal/model"
	"perpctl/internal/paper"
	"perpctl/internal/universe"
	"perpctl/pkg/utils"
)

// Orchestrator owns the process-wide mutable state: the active symbol
// set, per-symbol indicator state, the spread and price caches, and the
// timestamps the supervisor tasks watch.
type Orchestrator struct {
	cfg *config.Config
	gw  gateway.Gateway

	stream   *gateway.Stream
	paperEng *paper.Engine
	liveEng  *live.Engine

	log *utils.Logger

	symMu  sync.RWMutex
	active []string

	indMu      sync.Mutex
	indicators map[string]*indicator.State

	spreadMu    sync.Mutex
	spreadCache map[string]float64

	priceMu   sync.Mutex
	lastPrice map[string]float64

	lastTickMs atomic.Int64

	// runCtx is the context passed to Run, stored before any supervisor
	// task is launched so the tick-handling goroutine (started by wsLoop)
	// can thread it into the live-open-and-watch flow for shutdown
	// cancellation.
	runCtx context.Context

	// liveFlowActive guards against two concurrent live-open-and-watch
	// flows: since the flow now runs on its own goroutine instead of
	// inline on the tick path, a repeated trigger-symbol signal could
	// otherwise launch a second flow before the first has opened a
	// position for OpenLive's own guard to catch.
	liveFlowActive atomic.Bool

	wg sync.WaitGroup
}

// New builds an Orchestrator. The caller supplies the already-constructed
// gateway, paper, and live engines so tests can substitute fakes.
func New(cfg *config.Config, gw gateway.Gateway, paperEng *paper.Engine, liveEng *live.Engine) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		gw:          gw,
		paperEng:    paperEng,
		liveEng:     liveEng,
		log:         utils.L().WithComponent("orchestrator"),
		indicators:  make(map[string]*indicator.State),
		spreadCache: make(map[string]float64),
		lastPrice:   make(map[string]float64),
	}
	o.stream = gateway.NewStream(gateway.StreamConfig{WSBase: cfg.Gateway.WSBase, Mode: cfg.Gateway.WSMode}, o.onTick)
	o.stream.OnReconnect = func(trigger string) { wsReconnects.WithLabelValues(trigger).Inc() }
	return o
}

// Run starts every concurrent task and blocks until ctx is cancelled, at
// which point it drives a graceful shutdown: the live watcher (if any)
// performs a confirmed FORCE_EXIT close before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx

	if err := o.refreshUniverse(ctx); err != nil {
		o.log.Warn("initial universe build failed, continuing with fallback", utils.Err(err))
	}

	tasks := []func(context.Context){
		o.universeLoop,
		o.spreadLoop,
		o.wsLoop,
		o.heartbeatLoop,
		o.wsWatchdogLoop,
		o.paperTimeoutLoop,
	}
	for _, task := range tasks {
		o.wg.Add(1)
		go func(t func(context.Context)) {
			defer o.wg.Done()
			t(ctx)
		}(task)
	}

	<-ctx.Done()
	o.wg.Wait()
	return nil
}

// Ready reports whether the universe builder has produced at least one
// active symbol, for the ops server's readiness probe.
func (o *Orchestrator) Ready() bool {
	return len(o.activeSymbolsSnapshot()) > 0
}

func (o *Orchestrator) activeSymbolsSnapshot() []string {
	o.symMu.RLock()
	defer o.symMu.RUnlock()
	return append([]string(nil), o.active...)
}

func (o *Orchestrator) indicatorFor(symbol string) *indicator.State {
	o.indMu.Lock()
	defer o.indMu.Unlock()
	st, ok := o.indicators[symbol]
	if !ok {
		maxBars := indicator.BarsForLookback(int(o.cfg.Signal.TFSec/time.Second), o.cfg.Signal.LookbackMinutes)
		impulseCap := int(o.cfg.Signal.ImpulseLookbackSec/time.Second)*20 + 200
		st = indicator.NewState(int(o.cfg.Signal.TFSec/time.Second), maxBars, impulseCap)
		o.indicators[symbol] = st
	}
	return st
}

func (o *Orchestrator) recordPrice(symbol string, price float64) {
	o.priceMu.Lock()
	o.lastPrice[symbol] = price
	o.priceMu.Unlock()
}

// priceFunc satisfies live.PriceFunc for the watch loop's profit-timeout
// sample.
func (o *Orchestrator) priceFunc(symbol string) (float64, bool) {
	o.priceMu.Lock()
	defer o.priceMu.Unlock()
	p, ok := o.lastPrice[symbol]
	return p, ok
}

func (o *Orchestrator) cachedSpread(symbol string) (float64, bool) {
	o.spreadMu.Lock()
	defer o.spreadMu.Unlock()
	p, ok := o.spreadCache[symbol]
	return p, ok
}

func (o *Orchestrator) refreshUniverse(ctx context.Context) error {
	cfg := universe.Config{
		Mode:              o.cfg.Universe.SymbolMode,
		Whitelist:         o.cfg.Universe.Whitelist,
		Blacklist:         o.cfg.Universe.Blacklist,
		SkipSymbols:       o.cfg.Universe.SkipSymbols,
		Quote:             o.cfg.Universe.Quote,
		WhitelistPriority: o.cfg.Universe.WhitelistPriority,
		AutoTopN:          o.cfg.Universe.AutoTopN,
		TargetSymbols:     o.cfg.Universe.TargetSymbols,
		Min24hQuoteVol:    o.cfg.Universe.Min24hQuoteVol,
	}
	active, err := universe.Build(ctx, o.gw, cfg)

	o.symMu.Lock()
	o.active = active
	o.symMu.Unlock()
	activeSymbols.Set(float64(len(active)))
	o.stream.SetSymbols(active)

	for _, sym := range active {
		o.indicatorFor(sym)
	}
	return err
}

func (o *Orchestrator) universeLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Universe.RefreshUniverseSec)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.refreshUniverse(ctx); err != nil {
				o.log.Warn("universe refresh degraded to whitelist fallback", utils.Err(err))
			}
		}
	}
}

// spreadLoop round-robins book_ticker across the active symbols with a
// small inter-call delay, to smooth API pressure across many symbols.
func (o *Orchestrator) spreadLoop(ctx context.Context) {
	const interCallDelay = 150 * time.Millisecond
	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		symbols := o.activeSymbolsSnapshot()
		if len(symbols) == 0 {
			time.Sleep(time.Second)
			continue
		}
		sym := symbols[idx%len(symbols)]
		idx++

		bid, ask, err := o.gw.BookTicker(ctx, sym)
		if err == nil && bid > 0 {
			spreadPct := utils.CalculateSpreadFromPrices(bid, ask)
			o.spreadMu.Lock()
			o.spreadCache[sym] = spreadPct
			o.spreadMu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interCallDelay):
		}
	}
}

// wsLoop owns the trade-stream client's lifetime.
func (o *Orchestrator) wsLoop(ctx context.Context) {
	_ = o.stream.Run(ctx)
}

func (o *Orchestrator) onTick(tick gateway.TradeTick) {
	o.handleTradeTick(tick.Symbol, tick.Price, tick.TsMs)
}

// heartbeatLoop emits one line every heartbeat_min_sec..heartbeat_max_sec
// (jittered so many deployments don't all log in lockstep) describing
// mode, trigger symbol, last tick age, and whether a live position is
// open. The number of open paper positions is not reported.
func (o *Orchestrator) heartbeatLoop(ctx context.Context) {
	for {
		lo := o.cfg.Supervise.HeartbeatMinSec
		hi := o.cfg.Supervise.HeartbeatMaxSec
		wait := lo
		if hi > lo {
			wait = lo + time.Duration(rand.Int63n(int64(hi-lo)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		freeze := o.paperEng.FreezeState()
		mode := "NORMAL"
		if freeze.FreezePaperEntries {
			mode = "FROZEN"
		}
		lastTick := o.lastTickMs.Load()
		age := time.Duration(0)
		if lastTick != 0 {
			age = time.Since(time.UnixMilli(lastTick))
		}
		lastTickAgeSeconds.Set(age.Seconds())
		if freeze.FreezePaperEntries {
			freezeActive.Set(1)
		} else {
			freezeActive.Set(0)
		}

		o.log.Sugar().Infof(
			"HEARTBEAT mode=%s trigger=%s last_tick_age=%s live_open=%v",
			mode, freeze.TriggerSymbol, age, o.liveEng.HasPosition(),
		)
	}
}

// wsWatchdogLoop requests a stream reconnect after ws_stale_hits_to_reconnect
// consecutive stale checks, per the specification's debounced reconnect
// guarantee (Stream.RequestReconnect is itself idempotent per episode).
func (o *Orchestrator) wsWatchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	staleHits := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.stream.LastMsgAge() > o.cfg.Supervise.WSStaleSec {
				staleHits++
			} else {
				staleHits = 0
			}
			if staleHits >= o.cfg.Supervise.WSStaleHitsToReconnect {
				wsReconnects.WithLabelValues("watchdog").Inc()
				o.stream.RequestReconnect()
				staleHits = 0
			}
		}
	}
}

// paperTimeoutLoop guarantees deadline enforcement even under tick
// silence: it snapshots timed-out positions, then closes each only if
// still present (the tick path may have already closed it).
func (o *Orchestrator) paperTimeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, sym := range o.paperEng.TimedOutPositions(now) {
				price, ok := o.timeoutClosePrice(ctx, sym)
				if !ok {
					continue // left until its next tick, per spec
				}
				if res, closed := o.paperEng.Close(sym, price, model.ReasonTimeout, now); closed {
					paperEvents.WithLabelValues("CLOSE", string(res.Reason)).Inc()
				}
			}
		}
	}
}

// timeoutClosePrice obtains a price for the paper-timeout sweeper,
// preferring the cached last tick price and falling back to a
// book-ticker mid or the last-trade ticker price when no tick has been
// seen yet for the symbol.
func (o *Orchestrator) timeoutClosePrice(ctx context.Context, symbol string) (float64, bool) {
	if price, ok := o.priceFunc(symbol); ok {
		return price, true
	}
	if bid, ask, err := o.gw.BookTicker(ctx, symbol); err == nil && bid > 0 && ask > 0 {
		return (bid + ask) / 2, true
	}
	if price, err := o.gw.TickerPrice(ctx, symbol); err == nil && price > 0 {
		return price, true
	}
	return 0, false
}

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the orchestration engine, grouped the way the
// ambient arbitrage core groups its own: latency histograms, event
// counters, then gauges for current state.

var tickToSignalLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "perpctl",
		Subsystem: "orchestrator",
		Name:      "tick_to_signal_latency_ms",
		Help:      "Latency from trade tick receipt to signal evaluation in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
)

var ticksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpctl",
		Subsystem: "orchestrator",
		Name:      "ticks_processed_total",
		Help:      "Total number of trade ticks routed through handle_trade_tick",
	},
	[]string{"symbol"},
)

var paperEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpctl",
		Subsystem: "paper",
		Name:      "events_total",
		Help:      "Paper engine OPEN/CLOSE events by reason",
	},
	[]string{"event", "reason"},
)

var liveEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpctl",
		Subsystem: "live",
		Name:      "events_total",
		Help:      "Live engine outcome events by reason",
	},
	[]string{"outcome", "reason"},
)

var freezeActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpctl",
		Subsystem: "paper",
		Name:      "freeze_active",
		Help:      "1 when the paper engine is frozen awaiting a live trigger, 0 otherwise",
	},
)

var activeSymbols = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpctl",
		Subsystem: "universe",
		Name:      "active_symbols",
		Help:      "Current size of the active symbol universe",
	},
)

var wsReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpctl",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Trade stream reconnects by trigger",
	},
	[]string{"trigger"}, // "error" or "watchdog"
)

var lastTickAgeSeconds = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpctl",
		Subsystem: "stream",
		Name:      "last_tick_age_seconds",
		Help:      "Seconds since the last trade tick was received, sampled by the heartbeat",
	},
)

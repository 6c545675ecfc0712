// Package api exposes the orchestrator's operational surface: health
// checks, Prometheus metrics, and pprof profiling. There is no
// browser-facing surface in this domain (config is env-var driven, not
// REST CRUD), so the route set is deliberately small compared to the
// arbitrage core's versioned API.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"runtime"

	"perpctl/internal/api/middleware"
	"perpctl/internal/orchestrator"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the ops router: liveness/readiness, metrics export,
// and debug/profiling endpoints. o may be nil in tests that only need
// the metrics/pprof surface.
func SetupRoutes(o *orchestrator.Orchestrator) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if o == nil || !o.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// pprof endpoints, unauthenticated: this server is expected to sit
	// behind operator-only network access, same assumption the arbitrage
	// core's debug routes make.
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)
	debug.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
	debug.HandleFunc("/block", pprof.Handler("block").ServeHTTP)
	debug.HandleFunc("/threadcreate", pprof.Handler("threadcreate").ServeHTTP)
	debug.HandleFunc("/mutex", pprof.Handler("mutex").ServeHTTP)
	debug.HandleFunc("/allocs", pprof.Handler("allocs").ServeHTTP)

	router.HandleFunc("/debug/runtime", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"goroutines":        runtime.NumGoroutine(),
			"heap_alloc_mb":     float64(m.HeapAlloc) / 1024 / 1024,
			"heap_sys_mb":       float64(m.HeapSys) / 1024 / 1024,
			"num_gc":            m.NumGC,
			"gc_pause_total_ms": float64(m.PauseTotalNs) / 1e6,
		})
	}).Methods("GET")

	return router
}

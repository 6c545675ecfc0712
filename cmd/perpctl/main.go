package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perpctl/internal/api"
	"perpctl/internal/config"
	"perpctl/internal/gateway"
	"perpctl/internal/live"
	"perpctl/internal/orchestrator"
	"perpctl/internal/paper"
	"perpctl/internal/tradelog"
	"perpctl/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer log.Sync()

	gw := gateway.NewBinance(gateway.BinanceConfig{
		RestBase:  cfg.Gateway.RestBase,
		APIKey:    cfg.Auth.APIKey,
		APISecret: cfg.Auth.APISecret,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := gw.SyncTime(ctx); err != nil {
		log.Warn("initial server-time sync failed, continuing with local clock", utils.Err(err))
	}
	cancel()

	tl := tradelog.New(cfg.Paper.LogPath, cfg.Live.LogPath)

	paperEng := paper.NewEngine(paper.Config{
		TPPct:              cfg.Paper.TPPct,
		SLPct:              cfg.Paper.SLPct,
		MaxHoldingSec:      cfg.Paper.MaxHoldingSec,
		CooldownAfterTrade: cfg.Paper.CooldownAfterTrade,
		MaxTradesPerHour:   cfg.Paper.MaxTradesPerHour,
		LossStreakToArm:    cfg.Paper.LossStreakToArm,
		TradeNotionalUSD:   cfg.Paper.TradeNotionalUSD,
	}, tl)

	liveEng := live.NewEngine(gw, live.Config{
		NotionalUSD:                 cfg.Live.NotionalUSD,
		Leverage:                    cfg.Live.Leverage,
		MaxDeviationPct:             cfg.Live.MaxDeviationPct,
		TPPct:                       cfg.Paper.TPPct,
		SLPct:                       cfg.Paper.SLPct,
		PollSec:                     cfg.Watch.PollSec,
		ProfitTimeoutSec:            cfg.Watch.ProfitTimeoutSec,
		HardTimeoutSec:              cfg.Watch.HardTimeoutSec,
		EmergencyCloseOnHardTimeout: cfg.Watch.EmergencyCloseOnHardTimeout,
		CloseRetries:                cfg.Watch.CloseRetries,
		CloseRetrySleepSec:          cfg.Watch.CloseRetrySleepSec,
		ReconcileEverySec:           cfg.Watch.ReconcileEverySec,
	}, tl)

	orch := orchestrator.New(cfg, gw, paperEng, liveEng)

	runCtx, runCancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(runCtx) }()

	opsServer := &http.Server{
		Addr:         ":9090",
		Handler:      api.SetupRoutes(orch),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server failed", utils.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	runCancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("orchestrator shutdown timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops server forced to shutdown", utils.Err(err))
	}

	gateway.CloseGlobalClient()
	log.Info("exited")
}

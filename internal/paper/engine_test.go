package paper

import (
	"path/filepath"
	"testing"
	"time"

	"perpctl/internal/model"
	"perpctl/internal/tradelog"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	dir := t.TempDir()
	log := tradelog.New(filepath.Join(dir, "paper.csv"), filepath.Join(dir, "live.csv"))
	return NewEngine(cfg, log)
}

func TestOpenAndTPClose(t *testing.T) {
	cfg := Config{TPPct: 1.0, SLPct: 1.0, MaxHoldingSec: time.Hour, LossStreakToArm: 2, TradeNotionalUSD: 100}
	e := newTestEngine(t, cfg)
	now := time.Unix(0, 0)

	if !e.CanOpen("A", now) {
		t.Fatal("expected CanOpen to be true initially")
	}
	pos := e.Open("A", model.Long, 100.20, now)
	if pos.TP <= pos.Entry || pos.SL >= pos.Entry {
		t.Fatalf("unexpected bracket: %+v", pos)
	}

	res, closed := e.CheckClose("A", 101.21, now.Add(11*time.Second))
	if !closed {
		t.Fatal("expected a close")
	}
	if res.Reason != model.ReasonTP {
		t.Errorf("got reason %v, want TP", res.Reason)
	}
	if e.HasPosition("A") {
		t.Error("position should be removed after close")
	}
}

func TestLossStreakArmsFreeze(t *testing.T) {
	cfg := Config{TPPct: 1.0, SLPct: 1.0, MaxHoldingSec: time.Hour, LossStreakToArm: 2, TradeNotionalUSD: 100}
	e := newTestEngine(t, cfg)
	now := time.Unix(0, 0)

	e.Open("B", model.Long, 100, now)
	res, _ := e.CheckClose("B", 99, now.Add(time.Second))
	if res.Reason != model.ReasonSL || res.Armed {
		t.Fatalf("first SL should not arm: %+v", res)
	}

	now = now.Add(time.Hour) // clear cooldown
	e.Open("B", model.Long, 100, now)
	res, _ = e.CheckClose("B", 99, now.Add(time.Second))
	if !res.Armed {
		t.Fatal("second SL should arm the freeze")
	}

	fs := e.FreezeState()
	if !fs.Armed() || fs.TriggerSymbol != "B" {
		t.Errorf("unexpected freeze state: %+v", fs)
	}
	if e.CanOpen("A", now) {
		t.Error("CanOpen should be false once frozen")
	}
}

func TestResetAllStreaksClearsFreeze(t *testing.T) {
	cfg := Config{TPPct: 1.0, SLPct: 1.0, MaxHoldingSec: time.Hour, LossStreakToArm: 1, TradeNotionalUSD: 100}
	e := newTestEngine(t, cfg)
	now := time.Unix(0, 0)

	e.Open("C", model.Long, 100, now)
	e.CheckClose("C", 99, now.Add(time.Second))
	if !e.FreezeState().Armed() {
		t.Fatal("expected freeze after single SL with threshold 1")
	}

	e.ResetAllStreaks()
	fs := e.FreezeState()
	if fs.Armed() || fs.FreezePaperEntries {
		t.Errorf("expected clean state after reset, got %+v", fs)
	}
}

func TestTimedOutPositions(t *testing.T) {
	cfg := Config{TPPct: 1.0, SLPct: 1.0, MaxHoldingSec: 5 * time.Second, LossStreakToArm: 5, TradeNotionalUSD: 100}
	e := newTestEngine(t, cfg)
	now := time.Unix(0, 0)

	e.Open("D", model.Long, 100, now)
	if out := e.TimedOutPositions(now.Add(time.Second)); len(out) != 0 {
		t.Errorf("expected no timeouts yet, got %v", out)
	}
	out := e.TimedOutPositions(now.Add(10 * time.Second))
	if len(out) != 1 || out[0] != "D" {
		t.Errorf("expected [D], got %v", out)
	}
}

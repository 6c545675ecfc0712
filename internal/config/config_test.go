package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.RestBase == "" || cfg.Gateway.WSBase == "" {
		t.Error("expected default endpoints")
	}
	if cfg.Universe.TargetSymbols <= 0 {
		t.Error("expected positive default TargetSymbols")
	}
	if cfg.Live.Enabled {
		t.Error("expected live trading disabled by default")
	}
}

func TestLoadWhitelistOnlyRequiresWhitelist(t *testing.T) {
	os.Setenv("SYMBOL_MODE", "WHITELIST_ONLY")
	defer os.Unsetenv("SYMBOL_MODE")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for WHITELIST_ONLY with no WHITELIST")
	}
}

func TestLoadLiveRequiresCredentials(t *testing.T) {
	os.Setenv("LIVE_ENABLED", "true")
	defer os.Unsetenv("LIVE_ENABLED")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for LIVE_ENABLED with no credentials")
	}
}

func TestGetEnvAsStringSlice(t *testing.T) {
	os.Setenv("TEST_WHITELIST", "btcusdt, ethusdt ,solusdt")
	defer os.Unsetenv("TEST_WHITELIST")

	got := getEnvAsStringSlice("TEST_WHITELIST", nil)
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetEnvAsDurationBareSeconds(t *testing.T) {
	os.Setenv("TEST_SEC", "45")
	defer os.Unsetenv("TEST_SEC")

	got := getEnvAsDuration("TEST_SEC", time.Second)
	if got != 45*time.Second {
		t.Errorf("got %v, want 45s", got)
	}
}

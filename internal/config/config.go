// Package config loads and validates the process configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"perpctl/internal/model"
	"perpctl/pkg/utils"
)

// Config holds every recognized tunable.
type Config struct {
	Gateway   GatewayConfig
	Universe  UniverseConfig
	Signal    SignalConfig
	Paper     PaperConfig
	Live      LiveConfig
	Watch     WatchConfig
	Supervise SuperviseConfig
	Auth      AuthConfig
	Logging   LoggingConfig
}

// GatewayConfig - endpoints and wire variant.
type GatewayConfig struct {
	RestBase string
	WSBase   string
	WSMode   model.WSMode
}

// UniverseConfig - symbol selection policy.
type UniverseConfig struct {
	SymbolMode         model.SymbolMode
	Whitelist          []string
	Blacklist          []string
	SkipSymbols        []string
	Quote              string
	WhitelistPriority  bool
	AutoTopN           int
	TargetSymbols      int
	RefreshUniverseSec time.Duration
	Min24hQuoteVol     float64
}

// SignalConfig - indicator and signal parameters.
type SignalConfig struct {
	ImpulseLookbackSec time.Duration
	BreakoutBufferPct  float64
	MaxSpreadPct       float64
	MinATRPct          float64
	TFSec              time.Duration
	LookbackMinutes    int
	ATRPeriod          int
}

// PaperConfig - shadow strategy behavior.
type PaperConfig struct {
	Enabled            bool
	LogPath            string
	TradeNotionalUSD   float64
	MaxHoldingSec      time.Duration
	MaxTradesPerHour   int
	CooldownAfterTrade time.Duration
	TPPct              float64
	SLPct              float64
	LossStreakToArm    int
}

// LiveConfig - real-money sizing and gates.
type LiveConfig struct {
	Enabled         bool
	LogPath         string
	NotionalUSD     float64
	Leverage        int
	MaxPositions    int
	MaxDeviationPct float64
}

// WatchConfig - live-position watch deadlines and retry discipline.
type WatchConfig struct {
	PollSec                     time.Duration
	ProfitTimeoutSec            time.Duration
	HardTimeoutSec              time.Duration
	EmergencyCloseOnHardTimeout bool
	CloseRetries                int
	CloseRetrySleepSec          time.Duration
	ReconcileEverySec           time.Duration
}

// SuperviseConfig - heartbeat and stream watchdog tuning.
type SuperviseConfig struct {
	HeartbeatMinSec        time.Duration
	HeartbeatMaxSec        time.Duration
	WSStaleSec             time.Duration
	WSStaleHitsToReconnect int
}

// AuthConfig - venue credentials, required when live trading is enabled.
type AuthConfig struct {
	APIKey    string
	APISecret string
}

// LoggingConfig - structured log output.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load builds a Config from environment variables, applying the defaults
// documented per option, then validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Gateway: GatewayConfig{
			RestBase: getEnv("REST_BASE", "https://fapi.binance.com"),
			WSBase:   getEnv("WS_BASE", "wss://fstream.binance.com"),
			WSMode:   model.WSMode(getEnv("WS_MODE", string(model.WSModeAuto))),
		},
		Universe: UniverseConfig{
			SymbolMode:         model.SymbolMode(getEnv("SYMBOL_MODE", string(model.ModeHybridPriority))),
			Whitelist:          getEnvAsStringSlice("WHITELIST", nil),
			Blacklist:          getEnvAsStringSlice("BLACKLIST", nil),
			SkipSymbols:        getEnvAsStringSlice("SKIP_SYMBOLS", nil),
			Quote:              getEnv("QUOTE", "USDT"),
			WhitelistPriority:  getEnvAsBool("WHITELIST_PRIORITY", true),
			AutoTopN:           getEnvAsInt("AUTO_TOP_N", 20),
			TargetSymbols:      getEnvAsInt("TARGET_SYMBOLS", 15),
			RefreshUniverseSec: getEnvAsDuration("REFRESH_UNIVERSE_SEC", 300*time.Second),
			Min24hQuoteVol:     getEnvAsFloat("MIN_24H_QUOTE_VOL", 5_000_000),
		},
		Signal: SignalConfig{
			ImpulseLookbackSec: getEnvAsDuration("IMPULSE_LOOKBACK_SEC", 10*time.Second),
			BreakoutBufferPct:  getEnvAsFloat("BREAKOUT_BUFFER_PCT", 0.15),
			MaxSpreadPct:       getEnvAsFloat("MAX_SPREAD_PCT", 0.08),
			MinATRPct:          getEnvAsFloat("MIN_ATR_PCT", 0.05),
			TFSec:              getEnvAsDuration("TF_SEC", 60*time.Second),
			LookbackMinutes:    getEnvAsInt("LOOKBACK_MINUTES", 30),
			ATRPeriod:          getEnvAsInt("ATR_PERIOD", 14),
		},
		Paper: PaperConfig{
			Enabled:            getEnvAsBool("PAPER_ENABLED", true),
			LogPath:            getEnv("PAPER_LOG_PATH", "paper_trades.csv"),
			TradeNotionalUSD:   getEnvAsFloat("TRADE_NOTIONAL_USD", 100),
			MaxHoldingSec:      getEnvAsDuration("MAX_HOLDING_SEC", 900*time.Second),
			MaxTradesPerHour:   getEnvAsInt("MAX_TRADES_PER_HOUR", 0),
			CooldownAfterTrade: getEnvAsDuration("COOLDOWN_AFTER_TRADE_SEC", 30*time.Second),
			TPPct:              getEnvAsFloat("TP_PCT", 1.0),
			SLPct:              getEnvAsFloat("SL_PCT", 1.0),
			LossStreakToArm:    getEnvAsInt("LOSS_STREAK_TO_ARM", 3),
		},
		Live: LiveConfig{
			Enabled:         getEnvAsBool("LIVE_ENABLED", false),
			LogPath:         getEnv("LIVE_LOG_PATH", "live_trades.csv"),
			NotionalUSD:     getEnvAsFloat("LIVE_NOTIONAL_USD", 100),
			Leverage:        getEnvAsInt("LIVE_LEVERAGE", 5),
			MaxPositions:    getEnvAsInt("LIVE_MAX_POSITIONS", 1),
			MaxDeviationPct: getEnvAsFloat("MAX_DEVIATION_PCT", 0.3),
		},
		Watch: WatchConfig{
			PollSec:                     getEnvAsDuration("WATCH_POLL_SEC", 3*time.Second),
			ProfitTimeoutSec:            getEnvAsDuration("WATCH_PROFIT_TIMEOUT_SEC", 120*time.Second),
			HardTimeoutSec:              getEnvAsDuration("WATCH_HARD_TIMEOUT_SEC", 600*time.Second),
			EmergencyCloseOnHardTimeout: getEnvAsBool("EMERGENCY_CLOSE_ON_HARD_TIMEOUT", false),
			CloseRetries:                getEnvAsInt("LIVE_CLOSE_RETRIES", 5),
			CloseRetrySleepSec:          getEnvAsDuration("LIVE_CLOSE_RETRY_SLEEP_SEC", 2*time.Second),
			ReconcileEverySec:           getEnvAsDuration("LIVE_RECONCILE_EVERY_SEC", 10*time.Second),
		},
		Supervise: SuperviseConfig{
			HeartbeatMinSec:        getEnvAsDuration("HEARTBEAT_MIN_SEC", 30*time.Second),
			HeartbeatMaxSec:        getEnvAsDuration("HEARTBEAT_MAX_SEC", 60*time.Second),
			WSStaleSec:             getEnvAsDuration("WS_STALE_SEC", 10*time.Second),
			WSStaleHitsToReconnect: getEnvAsInt("WS_STALE_HITS_TO_RECONNECT", 2),
		},
		Auth: AuthConfig{
			APIKey:    getEnv("API_KEY", ""),
			APISecret: getEnv("API_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field and venue-facing invariants Load cannot
// express as a simple default.
func (c *Config) Validate() error {
	switch c.Universe.SymbolMode {
	case model.ModeWhitelistOnly, model.ModeHybridPriority, model.ModeAutoOnly:
	default:
		return fmt.Errorf("config: invalid SYMBOL_MODE %q", c.Universe.SymbolMode)
	}
	switch c.Gateway.WSMode {
	case model.WSModeAuto, model.WSModeCombined, model.WSModeSubscribe:
	default:
		return fmt.Errorf("config: invalid WS_MODE %q", c.Gateway.WSMode)
	}
	if c.Universe.SymbolMode == model.ModeWhitelistOnly && len(c.Universe.Whitelist) == 0 {
		return fmt.Errorf("config: WHITELIST_ONLY requires a non-empty WHITELIST")
	}
	if c.Universe.TargetSymbols <= 0 {
		return fmt.Errorf("config: TARGET_SYMBOLS must be positive")
	}
	if err := utils.ValidatePercentage(c.Paper.TPPct); err != nil {
		return fmt.Errorf("config: TP_PCT %w", err)
	}
	if err := utils.ValidatePercentage(c.Paper.SLPct); err != nil {
		return fmt.Errorf("config: SL_PCT %w", err)
	}
	if c.Live.MaxPositions <= 0 {
		return fmt.Errorf("config: LIVE_MAX_POSITIONS must be positive")
	}
	if c.Live.Enabled {
		if err := utils.ValidateLeverage(c.Live.Leverage); err != nil {
			return fmt.Errorf("config: LIVE_LEVERAGE %w", err)
		}
		if c.Auth.APIKey == "" || c.Auth.APISecret == "" {
			return fmt.Errorf("config: API_KEY and API_SECRET are required when LIVE_ENABLED=true")
		}
		if err := utils.ValidateAPIKey(c.Auth.APIKey); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := utils.ValidateAPISecret(c.Auth.APISecret); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		// Every *_SEC option is documented as a bare integer count of
		// seconds, not a Go duration literal.
		if n, err2 := strconv.Atoi(valueStr); err2 == nil {
			return time.Duration(n) * time.Second
		}
		return defaultValue
	}
	return value
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

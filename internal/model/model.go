// Package model holds the data types shared by every stage of the
// orchestration pipeline: the exchange-derived symbol metadata, the
// rolling indicator state per symbol, and the paper/live position
// records.
package model

import "time"

// Side is a position or order direction.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite returns the reduce-only close side for a position side.
func (s Side) Opposite() string {
	if s == Long {
		return "SELL"
	}
	return "BUY"
}

// Entry returns the opening order side.
func (s Side) Entry() string {
	if s == Long {
		return "BUY"
	}
	return "SELL"
}

// CloseReason tags why a position was closed.
type CloseReason string

const (
	ReasonTP             CloseReason = "TP"
	ReasonSL             CloseReason = "SL"
	ReasonTimeout        CloseReason = "TIMEOUT"
	ReasonTimeoutProfit  CloseReason = "TIMEOUT_PROFIT"
	ReasonTimeoutHard    CloseReason = "TIMEOUT_HARD"
	ReasonForceExit      CloseReason = "FORCE_EXIT"
	ReasonTPExchange     CloseReason = "TP_EXCHANGE"
	ReasonSLExchange     CloseReason = "SL_EXCHANGE"
	ReasonUnknownOrStop  CloseReason = "CLOSE_UNKNOWN_OR_STOP_FILLED"
	ReasonOther          CloseReason = "OTHER"
)

// SymbolFilters are the venue-reported trading constraints for a symbol.
type SymbolFilters struct {
	StepSize    float64
	MinQty      float64
	TickSize    float64
	MinNotional float64
}

// Symbol is an uppercase instrument identifier ending in the configured
// quote asset, carrying the filters the universe builder cached from the
// gateway.
type Symbol struct {
	Name    string
	Filters SymbolFilters
}

// Bar is a closed OHLC record for one bucket of a symbol's trade stream.
type Bar struct {
	BucketStartMs int64
	Open          float64
	High          float64
	Low           float64
	Close         float64
}

// TrueRange computes the true range of this bar against the previous
// bar's close.
func (b Bar) TrueRange(prevClose float64) float64 {
	hl := b.High - b.Low
	hc := absF(b.High - prevClose)
	lc := absF(b.Low - prevClose)
	return maxF(hl, maxF(hc, lc))
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// PaperPosition is a simulated position tracked purely for streak
// accounting and signal diagnostics.
type PaperPosition struct {
	Symbol   string
	Side     Side
	Entry    float64
	TP       float64
	SL       float64
	OpenedAt time.Time
}

// Age returns how long the position has been open as of now.
func (p PaperPosition) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// LivePosition is the single real position held at the venue.
type LivePosition struct {
	Symbol     string
	Side       Side
	Entry      float64
	Qty        float64
	OpenedAt   time.Time
	EntryOrder string
	TPOrder    string
	SLOrder    string
}

// Age returns how long the position has been open as of now.
func (p LivePosition) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// FreezeState is the paper-engine's global freeze/arm/trigger tuple.
type FreezeState struct {
	FreezePaperEntries bool
	FreezeStreakUpdate bool
	TriggerSymbol      string
}

// Armed reports whether a trigger symbol has been latched.
func (f FreezeState) Armed() bool {
	return f.TriggerSymbol != ""
}

// Universe selection policy.
type SymbolMode string

const (
	ModeWhitelistOnly   SymbolMode = "WHITELIST_ONLY"
	ModeHybridPriority  SymbolMode = "HYBRID_PRIORITY"
	ModeAutoOnly        SymbolMode = "AUTO_ONLY"
)

// WS wire variant.
type WSMode string

const (
	WSModeAuto      WSMode = "AUTO"
	WSModeCombined  WSMode = "COMBINED"
	WSModeSubscribe WSMode = "SUBSCRIBE"
)

package indicator

import "perpctl/internal/model"

// Signal is the emitted directional call, or NoSignal.
type Signal string

const (
	NoSignal  Signal = ""
	LongCall  Signal = "LONG"
	ShortCall Signal = "SHORT"
)

// GateParams are the tunables the signal gate evaluates against.
type GateParams struct {
	BreakoutBufferPct float64
	MinATRPct         float64
	MaxSpreadPct      float64
	ATRPeriod         int
}

// Evaluate computes the impulse return and ATR% for the symbol and gates
// them against spread and volatility bounds. spreadPct is the latest
// cached book-ticker spread; hasSpread is false when no quote has been
// cached yet, which forces NoSignal regardless of the other gates.
func Evaluate(st *State, nowMs int64, impulseLookbackMs int64, lastPrice, spreadPct float64, hasSpread bool, p GateParams) Signal {
	r, ok := st.ImpulseReturnPct(nowMs, impulseLookbackMs)
	if !ok {
		return NoSignal
	}
	atr, ok := st.ATR(p.ATRPeriod)
	if !ok || lastPrice == 0 {
		return NoSignal
	}
	atrPct := atr / lastPrice * 100
	if atrPct < p.MinATRPct {
		return NoSignal
	}
	if !hasSpread || spreadPct > p.MaxSpreadPct {
		return NoSignal
	}

	switch {
	case r >= p.BreakoutBufferPct:
		return LongCall
	case r <= -p.BreakoutBufferPct:
		return ShortCall
	default:
		return NoSignal
	}
}

// Side converts a Signal into the domain Side, the zero value meaning
// "no call" — callers must check the ok return first.
func (sig Signal) Side() (model.Side, bool) {
	switch sig {
	case LongCall:
		return model.Long, true
	case ShortCall:
		return model.Short, true
	default:
		return "", false
	}
}

// Package indicator derives per-symbol rolling OHLC bars, ATR, and
// short-window impulse returns from the trade stream, and gates them into
// entry signals.
package indicator

import (
	"math"
	"sync"

	"perpctl/internal/model"
)

// State is the per-symbol rolling indicator state: the current-bucket OHLC
// accumulator plus the closed-bar ring buffer and the raw tick buffer used
// for impulse returns. The orchestrator's tick path is its only writer.
type State struct {
	mu sync.Mutex

	tfMs    int64
	maxBars int

	current *model.Bar
	bars    []model.Bar

	ticks tickBuffer
}

// BarsForLookback computes the ring buffer capacity per the bucket-sizing
// rule: at least 200 bars, or enough to cover lookbackMinutes at tfSec
// granularity plus a 10-bar cushion, whichever is larger.
func BarsForLookback(tfSec, lookbackMinutes int) int {
	need := int(math.Ceil(float64(lookbackMinutes)*60/float64(tfSec))) + 10
	if need < 200 {
		return 200
	}
	return need
}

// NewState builds a State for one symbol. tfSec is the bar timeframe in
// seconds; maxBars bounds the closed-bar ring buffer.
func NewState(tfSec, maxBars, impulseCapacity int) *State {
	return &State{
		tfMs:    int64(tfSec) * 1000,
		maxBars: maxBars,
		ticks:   newTickBuffer(impulseCapacity),
	}
}

func bucketStart(tsMs, tfMs int64) int64 {
	return (tsMs / tfMs) * tfMs
}

// OnTrade folds one trade into the current bucket, rolling a closed bar
// into the ring buffer when the trade lands in a new bucket. It also
// records the trade in the impulse tick buffer. Returns the bar that was
// closed, if any.
func (s *State) OnTrade(tsMs int64, price float64) (closed model.Bar, rolled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks.add(tsMs, price)

	start := bucketStart(tsMs, s.tfMs)
	if s.current == nil {
		s.current = &model.Bar{BucketStartMs: start, Open: price, High: price, Low: price, Close: price}
		return model.Bar{}, false
	}
	if start == s.current.BucketStartMs {
		if price > s.current.High {
			s.current.High = price
		}
		if price < s.current.Low {
			s.current.Low = price
		}
		s.current.Close = price
		return model.Bar{}, false
	}

	closedBar := *s.current
	s.appendBar(closedBar)
	s.current = &model.Bar{BucketStartMs: start, Open: price, High: price, Low: price, Close: price}
	return closedBar, true
}

func (s *State) appendBar(b model.Bar) {
	s.bars = append(s.bars, b)
	if len(s.bars) > s.maxBars {
		s.bars = s.bars[len(s.bars)-s.maxBars:]
	}
}

// ATR computes the average true range over the last period closed bars.
// ok is false if fewer than period+1 closed bars exist yet.
func (s *State) ATR(period int) (value float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.bars) < period+1 {
		return 0, false
	}
	window := s.bars[len(s.bars)-period-1:]
	var sum float64
	for i := 1; i < len(window); i++ {
		sum += window[i].TrueRange(window[i-1].Close)
	}
	return sum / float64(period), true
}

// LastClose returns the most recent closed bar's close price, if any.
func (s *State) LastClose() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bars) == 0 {
		return 0, false
	}
	return s.bars[len(s.bars)-1].Close, true
}

// ImpulseReturnPct returns the percent price change from the oldest tick
// at or after nowMs-lookbackMs (or the earliest tick if none qualify) to
// the latest tick. ok is false with an empty buffer.
func (s *State) ImpulseReturnPct(nowMs, lookbackMs int64) (pct float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks.impulseReturnPct(nowMs, lookbackMs)
}

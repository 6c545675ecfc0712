package indicator

import "testing"

func TestOnTradeRollsBarOnBucketChange(t *testing.T) {
	st := NewState(60, 200, 600)

	if _, rolled := st.OnTrade(0, 100); rolled {
		t.Fatal("first trade should not roll a bar")
	}
	if _, rolled := st.OnTrade(30_000, 101); rolled {
		t.Fatal("same-bucket trade should not roll a bar")
	}
	closed, rolled := st.OnTrade(61_000, 102)
	if !rolled {
		t.Fatal("expected bar roll at bucket boundary")
	}
	if closed.Open != 100 || closed.Close != 101 {
		t.Errorf("closed bar = %+v, want open=100 close=101", closed)
	}
}

func TestATRInsufficientBars(t *testing.T) {
	st := NewState(60, 200, 600)
	if _, ok := st.ATR(14); ok {
		t.Fatal("expected insufficient ATR with no closed bars")
	}
}

func TestATRComputation(t *testing.T) {
	st := NewState(60, 200, 600)
	// Trades across three buckets close two bars (the third stays open),
	// enough for ATR(1).
	prices := []struct {
		ts    int64
		price float64
	}{
		{0, 100}, {61_000, 101}, {62_000, 105}, {122_000, 103}, {123_000, 99},
	}
	for _, p := range prices {
		st.OnTrade(p.ts, p.price)
	}
	atr, ok := st.ATR(1)
	if !ok {
		t.Fatal("expected sufficient bars for ATR(1)")
	}
	if atr <= 0 {
		t.Errorf("expected positive ATR, got %v", atr)
	}
}

func TestBarsForLookback(t *testing.T) {
	if got := BarsForLookback(60, 5); got != 200 {
		t.Errorf("expected floor of 200, got %d", got)
	}
	if got := BarsForLookback(10, 600); got != 3610 {
		t.Errorf("got %d, want 3610", got)
	}
}

// Package tradelog appends paper and live trade events to CSV files,
// writing a header only the first time a path is created.
package tradelog

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var paperHeader = []string{"ts", "symbol", "side", "event", "entry", "exit", "tp", "sl", "pnl_pct", "net_pnl_usd", "reason"}
var liveHeader = []string{"ts", "symbol", "side", "entry", "exit", "qty", "leverage", "pnl_pct", "net_pnl_usd", "outcome", "reason", "order_id_entry", "order_id_exit"}

// PaperEvent is one OPEN/CLOSE row of the paper log.
type PaperEvent struct {
	Ts        time.Time
	Symbol    string
	Side      string
	Event     string // OPEN or CLOSE
	Entry     float64
	Exit      float64
	TP        float64
	SL        float64
	PnLPct    float64
	NetPnLUSD float64
	Reason    string
}

// LiveEvent is one settled-trade row of the live log.
type LiveEvent struct {
	Ts           time.Time
	Symbol       string
	Side         string
	Entry        float64
	Exit         float64
	Qty          float64
	Leverage     int
	PnLPct       float64
	NetPnLUSD    float64
	Outcome      string
	Reason       string
	OrderIDEntry string
	OrderIDExit  string
}

// Writer owns the paper and live CSV files. One writer is shared process-
// wide; Append* calls take a file-scoped lock so concurrent callers never
// interleave rows.
type Writer struct {
	paperMu   sync.Mutex
	paperPath string

	liveMu   sync.Mutex
	livePath string
}

// New opens (or prepares to create) the CSV files at paperPath/livePath.
// Header rows are written lazily, on first append, so an unused log file
// is never created empty.
func New(paperPath, livePath string) *Writer {
	return &Writer{paperPath: paperPath, livePath: livePath}
}

// AppendPaper writes one row to the paper log. Errors are logged by the
// caller's discretion; tradelog itself never panics on a write failure —
// losing a log row must not take down the trading loop.
func (w *Writer) AppendPaper(ev PaperEvent) error {
	w.paperMu.Lock()
	defer w.paperMu.Unlock()

	row := []string{
		ev.Ts.UTC().Format(time.RFC3339),
		ev.Symbol,
		ev.Side,
		ev.Event,
		formatFloat(ev.Entry),
		formatFloat(ev.Exit),
		formatFloat(ev.TP),
		formatFloat(ev.SL),
		formatFloat(ev.PnLPct),
		formatFloat(ev.NetPnLUSD),
		ev.Reason,
	}
	return appendRow(w.paperPath, paperHeader, row)
}

// AppendLive writes one row to the live log.
func (w *Writer) AppendLive(ev LiveEvent) error {
	w.liveMu.Lock()
	defer w.liveMu.Unlock()

	row := []string{
		ev.Ts.UTC().Format(time.RFC3339),
		ev.Symbol,
		ev.Side,
		formatFloat(ev.Entry),
		formatFloat(ev.Exit),
		formatFloat(ev.Qty),
		fmt.Sprintf("%d", ev.Leverage),
		formatFloat(ev.PnLPct),
		formatFloat(ev.NetPnLUSD),
		ev.Outcome,
		ev.Reason,
		ev.OrderIDEntry,
		ev.OrderIDExit,
	}
	return appendRow(w.livePath, liveHeader, row)
}

// formatFloat renders a trade-log value at fixed 8-decimal precision via
// shopspring/decimal rather than fmt's binary-float formatting, so two
// runs computing the "same" price never disagree by a trailing ULP in
// the log file.
func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}

func appendRow(path string, header, row []string) error {
	needsHeader := false
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("tradelog: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("tradelog: write header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("tradelog: write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

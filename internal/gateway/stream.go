package gateway

// stream.go - inbound trade stream client (§6, §5 reconnection policy).
// Adapted from the teacher's WSReconnectManager: same dial/readPump/
// reconnect-loop shape, but fixed-delay backoff (not exponential) and a
// watchdog-triggered short-delay path, matching the specification's
// reproduced API behavior rather than the teacher's own tuning.

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"perpctl/internal/model"
	"perpctl/pkg/utils"
)

// TradeTick is one parsed trade off the stream.
type TradeTick struct {
	Symbol string
	Price  float64
	TsMs   int64
}

// StreamConfig configures the trade stream client.
type StreamConfig struct {
	WSBase string
	Mode   model.WSMode
}

const (
	streamErrorBackoff    = 3 * time.Second
	streamWatchdogBackoff = 1 * time.Second
)

// Stream maintains a single live connection to the trade stream,
// reconnecting on any transport error or on an operator-requested
// watchdog reconnect.
type Stream struct {
	cfg StreamConfig
	log *utils.Logger

	onTick func(TradeTick)

	// OnReconnect, if set, is invoked with "error" each time Run backs off
	// after a transport error before redialing. Watchdog-requested
	// reconnects do not invoke it.
	OnReconnect func(trigger string)

	mu      sync.Mutex
	symbols []string

	connMu sync.Mutex
	conn   *websocket.Conn

	lastMsgMs int64 // atomic, unix ms of the last received frame

	reconnectRequested int32 // atomic bool
	closeSentThisEpisode int32 // atomic bool, debounces the forced close
}

// NewStream builds a Stream. onTick is invoked synchronously from the
// read loop for every parsed trade; callers needing concurrency should
// fan the tick out themselves (the orchestrator handles each tick inline).
func NewStream(cfg StreamConfig, onTick func(TradeTick)) *Stream {
	return &Stream{
		cfg:    cfg,
		log:    utils.L().WithComponent("stream"),
		onTick: onTick,
	}
}

// SetSymbols replaces the subscription set used on the next (re)connect.
// It does not itself force a reconnect; the universe loop's refreshed set
// takes effect on the next dial.
func (s *Stream) SetSymbols(symbols []string) {
	s.mu.Lock()
	s.symbols = append([]string(nil), symbols...)
	s.mu.Unlock()
}

func (s *Stream) snapshotSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

// LastMsgAge returns how long it has been since the last frame was
// received, for the watchdog.
func (s *Stream) LastMsgAge() time.Duration {
	last := atomic.LoadInt64(&s.lastMsgMs)
	if last == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(last))
}

// RequestReconnect is called by the watchdog once ws_stale_hits_to_reconnect
// consecutive stale checks have elapsed. It sends exactly one
// close(4000,"stale") per stale episode and lets the read loop's error path
// drive the actual reconnect, at the shorter watchdog backoff.
func (s *Stream) RequestReconnect() {
	if !atomic.CompareAndSwapInt32(&s.closeSentThisEpisode, 0, 1) {
		return // already sent for this episode
	}
	atomic.StoreInt32(&s.reconnectRequested, 1)

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(4000, "stale")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

// nextBackoff consumes the watchdog flag set by RequestReconnect. The
// watchdog trigger is counted by the caller of RequestReconnect itself;
// OnReconnect here only fires for the plain transport-error path, so a
// reconnect episode is never double-counted.
func (s *Stream) nextBackoff() time.Duration {
	if atomic.SwapInt32(&s.reconnectRequested, 0) == 1 {
		return streamWatchdogBackoff
	}
	if s.OnReconnect != nil {
		s.OnReconnect("error")
	}
	return streamErrorBackoff
}

func (s *Stream) buildURL() string {
	symbols := s.snapshotSymbols()
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+"@trade")
	}
	if s.cfg.Mode == model.WSModeSubscribe {
		return s.cfg.WSBase + "/ws"
	}
	return s.cfg.WSBase + "/stream?streams=" + strings.Join(streams, "/")
}

func (s *Stream) subscribeFrame() ([]byte, bool) {
	if s.cfg.Mode != model.WSModeSubscribe {
		return nil, false
	}
	symbols := s.snapshotSymbols()
	params := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		params = append(params, strings.ToLower(sym)+"@trade")
	}
	msg := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{Method: "SUBSCRIBE", Params: params, ID: 1}
	raw, _ := jsonAPI.Marshal(msg)
	return raw, true
}

// Run connects and processes frames until ctx is cancelled. It always
// returns nil on clean shutdown.
func (s *Stream) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.runOnce(ctx); err != nil {
			s.log.Warn("stream disconnected", utils.Err(err))
		}
		atomic.StoreInt32(&s.closeSentThisEpisode, 0)
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.nextBackoff()):
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.buildURL(), nil)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}()

	if frame, ok := s.subscribeFrame(); ok {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		atomic.StoreInt64(&s.lastMsgMs, time.Now().UnixMilli())
		if tick, ok := parseTradeFrame(msg); ok {
			s.onTick(tick)
		}
	}
}

func parseTradeFrame(raw []byte) (TradeTick, bool) {
	var combined struct {
		Data json.RawMessage `json:"data"`
	}
	payload := raw
	if err := jsonAPI.Unmarshal(raw, &combined); err == nil && len(combined.Data) > 0 {
		payload = combined.Data
	}

	var frame struct {
		Result *interface{} `json:"result"`
		Symbol string      `json:"s"`
		Price  string      `json:"p"`
		Trade  int64       `json:"T"`
		Trade2 int64       `json:"tradeTime"`
		Event  int64       `json:"E"`
	}
	if err := jsonAPI.Unmarshal(payload, &frame); err != nil {
		return TradeTick{}, false
	}
	if frame.Result != nil || frame.Symbol == "" {
		return TradeTick{}, false // subscribe ack, ignored per §6
	}
	price, err := strconv.ParseFloat(frame.Price, 64)
	if err != nil {
		return TradeTick{}, false
	}
	ts := frame.Trade
	if ts == 0 {
		ts = frame.Trade2
	}
	if ts == 0 {
		ts = frame.Event
	}
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return TradeTick{Symbol: frame.Symbol, Price: price, TsMs: ts}, true
}

// ws.go implements the public and private WebSocket multiplexers.
//
// Public WS subscribes per-symbol to L1 orderbook + trade topics and feeds
// BBOCache. Private WS authenticates once connected (HMAC login frame),
// subscribes to order/execution/position topics, and runs three
// concurrent tasks per the spec: a ping loop, an idle-timeout watchdog,
// and a receive loop that dispatches frames to per-topic handlers. Both
// reconnect indefinitely with exponential-jitter backoff; a private
// reconnect invokes the caller-supplied onReconnect hook so the OMS can
// run reconcile_inflight_open_orders.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

const (
	wsPingInterval  = 20 * time.Second
	wsIdleTimeout   = 60 * time.Second
	wsWriteTimeout  = 10 * time.Second
	wsMaxBackoff    = 30 * time.Second
	wsInitBackoff   = 500 * time.Millisecond
)

// PublicWS subscribes to orderbook + trade topics for a set of symbols and
// pushes L1 updates into a BBOCache.
type PublicWS struct {
	url    string
	bbo    *BBOCache
	cache  *InstrumentCache
	logger *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	symbols     map[Symbol]bool
	subscribers []chan BBO
}

// Broadcast registers ch to receive every BBO update this feed applies to
// the cache, in addition to the cache write. Sends are non-blocking; a
// full subscriber channel drops the update rather than stalling the feed.
func (w *PublicWS) Broadcast(ch chan BBO) {
	w.mu.Lock()
	w.subscribers = append(w.subscribers, ch)
	w.mu.Unlock()
}

// NewPublicWS constructs a public WS client targeting url, pushing L1
// updates into bbo and recording scale observations in cache.
func NewPublicWS(url string, bbo *BBOCache, cache *InstrumentCache, logger *slog.Logger) *PublicWS {
	return &PublicWS{url: url, bbo: bbo, cache: cache, logger: logger, symbols: make(map[Symbol]bool)}
}

// Subscribe adds symbols to the tracked set; they are (re)subscribed on
// the next connect/reconnect.
func (w *PublicWS) Subscribe(symbols []Symbol) {
	w.mu.Lock()
	for _, s := range symbols {
		w.symbols[s] = true
	}
	w.mu.Unlock()
}

// Run connects and reconnects indefinitely with exponential-jitter
// backoff until ctx is cancelled.
func (w *PublicWS) Run(ctx context.Context) error {
	backoff := wsInitBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.runOnce(ctx); err != nil {
			w.logger.Warn("public ws disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitterDuration(backoff)):
		}
		backoff = nextBackoff(backoff)
	}
}

func (w *PublicWS) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial public ws: %w", err)
	}
	defer conn.Close()

	w.mu.Lock()
	w.conn = conn
	topics := topicsForSymbols(w.symbols)
	w.mu.Unlock()
	if len(topics) > 0 {
		if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": topics}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w.pingLoop(runCtx, conn) }()
	go func() { defer wg.Done(); w.readLoop(runCtx, conn, cancel) }()
	wg.Wait()
	return runCtx.Err()
}

func (w *PublicWS) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

func (w *PublicWS) readLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		w.handleFrame(data)
		if ctx.Err() != nil {
			return
		}
	}
}

type publicFrame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (w *PublicWS) handleFrame(data []byte) {
	var f publicFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Topic == "" {
		return
	}
	switch {
	case strings.HasPrefix(f.Topic, "orderbook."):
		w.handleOrderbook(f)
	}
}

type orderbookPayload struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

func (w *PublicWS) handleOrderbook(f publicFrame) {
	var p orderbookPayload
	if err := json.Unmarshal(f.Data, &p); err != nil || p.Symbol == "" {
		return
	}
	bbo, ok := parseL1(p)
	if !ok {
		return
	}
	w.bbo.Update(bbo)
	w.cache.ObserveScale(bbo.Symbol, bbo.BidPrice, bbo.UpdatedAt)

	w.mu.Lock()
	subs := w.subscribers
	w.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- bbo:
		default:
		}
	}
}

func parseL1(p orderbookPayload) (BBO, bool) {
	if len(p.Bids) == 0 || len(p.Asks) == 0 {
		return BBO{}, false
	}
	bidPx, err1 := decimalFromString(p.Bids[0][0])
	bidSz, err2 := decimalFromString(p.Bids[0][1])
	askPx, err3 := decimalFromString(p.Asks[0][0])
	askSz, err4 := decimalFromString(p.Asks[0][1])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return BBO{}, false
	}
	return BBO{Symbol: Symbol(p.Symbol), BidPrice: bidPx, BidSize: bidSz, AskPrice: askPx, AskSize: askSz, UpdatedAt: time.Now().UTC()}, true
}

func topicsForSymbols(symbols map[Symbol]bool) []string {
	topics := make([]string, 0, len(symbols)*2)
	for s := range symbols {
		topics = append(topics, "orderbook.1."+venueSymbol(s), "publicTrade."+venueSymbol(s))
	}
	return topics
}

// PrivateWS authenticates, subscribes to order/execution/position topics,
// and dispatches normalized ExecutionEvents to a channel consumed by the
// OMS. onReconnect fires after every successful (re)connect, including the
// first, so the OMS can reconcile inflight orders.
type PrivateWS struct {
	url        string
	auth       *Auth
	logger     *slog.Logger
	onReconnect func(ctx context.Context)

	mu        sync.Mutex
	lastEvent time.Time
	events    chan ExecutionEvent
}

// NewPrivateWS constructs a private WS client. onReconnect may be nil.
func NewPrivateWS(url string, auth *Auth, onReconnect func(ctx context.Context), logger *slog.Logger) *PrivateWS {
	return &PrivateWS{url: url, auth: auth, onReconnect: onReconnect, logger: logger, events: make(chan ExecutionEvent, 256)}
}

// Events returns the channel of normalized execution events.
func (w *PrivateWS) Events() <-chan ExecutionEvent { return w.events }

// LastEventAt returns the timestamp of the most recently received event,
// used by the OMS's WS-staleness submit gate.
func (w *PrivateWS) LastEventAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastEvent
}

// Run connects and reconnects indefinitely with exponential-jitter
// backoff until ctx is cancelled.
func (w *PrivateWS) Run(ctx context.Context) error {
	backoff := wsInitBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.runOnce(ctx); err != nil {
			w.logger.Warn("private ws disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitterDuration(backoff)):
		}
		backoff = nextBackoff(backoff)
	}
}

func (w *PrivateWS) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial private ws: %w", err)
	}
	defer conn.Close()

	apiKey, ts, sig, err := w.auth.WSAuthPayload(time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ws auth payload: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"op": "auth", "args": []string{apiKey, ts, sig}}); err != nil {
		return fmt.Errorf("ws login: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": []string{"order", "execution", "position"}}); err != nil {
		return fmt.Errorf("ws subscribe: %w", err)
	}

	if w.onReconnect != nil {
		w.onReconnect(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.pingLoop(runCtx, conn) }()
	go func() { defer wg.Done(); w.watchdog(runCtx, cancel) }()
	go func() { defer wg.Done(); w.readLoop(runCtx, conn, cancel) }()
	wg.Wait()
	return runCtx.Err()
}

func (w *PrivateWS) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

// watchdog disconnects the connection if no event (including heartbeats
// treated as events) has arrived within wsIdleTimeout.
func (w *PrivateWS) watchdog(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(w.LastEventAt()) > wsIdleTimeout {
				cancel()
				return
			}
		}
	}
}

func (w *PrivateWS) readLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	w.mu.Lock()
	w.lastEvent = time.Now()
	w.mu.Unlock()
	for {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		w.mu.Lock()
		w.lastEvent = time.Now()
		w.mu.Unlock()
		w.handleFrame(data)
		if ctx.Err() != nil {
			return
		}
	}
}

type privateFrame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type executionPayload struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"orderLinkId"`
	OrderStatus   string `json:"orderStatus"`
	ExecQty       string `json:"execQty"`
	CumExecQty    string `json:"cumExecQty"`
	AvgPrice      string `json:"avgPrice"`
	ExecPrice     string `json:"execPrice"`
	UpdatedTimeMS string `json:"updatedTime"`
}

func (w *PrivateWS) handleFrame(data []byte) {
	var f privateFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Topic == "" {
		return
	}
	switch f.Topic {
	case "order", "execution":
		var payloads []executionPayload
		if err := json.Unmarshal(f.Data, &payloads); err != nil {
			return
		}
		for _, p := range payloads {
			w.emit(p)
		}
	}
}

func (w *PrivateWS) emit(p executionPayload) {
	filled, _ := decimalFromString(p.CumExecQty)
	lastQty, _ := decimalFromString(p.ExecQty)
	avg, _ := decimalFromString(p.AvgPrice)
	lastPx, _ := decimalFromString(p.ExecPrice)
	var updatedMS int64
	fmt.Sscanf(p.UpdatedTimeMS, "%d", &updatedMS)

	evt := ExecutionEvent{
		Symbol:        Symbol(p.Symbol),
		OrderID:       p.OrderID,
		ClientOrderID: p.ClientOrderID,
		Status:        p.OrderStatus,
		FilledQty:     filled,
		AvgFillPrice:  avg,
		LastFillQty:   lastQty,
		LastFillPrice: lastPx,
		UpdatedAtMS:   updatedMS,
	}
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("private ws event channel full, dropping event", "client_order_id", p.ClientOrderID)
	}
}

func jitterDuration(d time.Duration) time.Duration {
	spread := float64(d) * 0.25
	delta := (rand.Float64()*2 - 1) * spread
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		return 0
	}
	return result
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > wsMaxBackoff {
		return wsMaxBackoff
	}
	return d
}

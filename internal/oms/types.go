// Package oms is the Order Management Engine (spec §4.D): idempotent
// submission, the order lifecycle state machine, partial-fill/timeout
// resend, out-of-order WS event suppression, inflight-id reconciliation,
// PostOnly chase throttling, and reject-burst symbol cooldown.
package oms

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// Config tunes the engine's timeout/retry/chase/cooldown knobs (spec §6).
type Config struct {
	OrderTimeoutSec       time.Duration
	MaxRetries            int
	WsStaleBlockMS        int64
	ChaseEnabled          bool
	ChaseMinRepriceBps    decimal.Decimal
	ChaseIntervalMS       int64
	ChaseMaxAmendsPerMin  int
	RejectBurstThreshold  int
	RejectBurstWindow     time.Duration
	SymbolCooldown        time.Duration
}

// DefaultConfig matches the spec's stated defaults where given.
func DefaultConfig() Config {
	return Config{
		OrderTimeoutSec:      20 * time.Second,
		MaxRetries:           2,
		WsStaleBlockMS:       15000,
		ChaseEnabled:         true,
		ChaseMinRepriceBps:   decimal.NewFromInt(2),
		ChaseIntervalMS:      2000,
		ChaseMaxAmendsPerMin: 10,
		RejectBurstThreshold: 3,
		RejectBurstWindow:    60 * time.Second,
		SymbolCooldown:       120 * time.Second,
	}
}

// ManagedOrder is the OMS's exclusive, full-lifetime owner of one
// submitted order (spec §3). The Gateway holds no durable order state.
type ManagedOrder struct {
	Req             exchange.OrderRequest
	State           exchange.OrderLifecycleState
	SentAt          time.Time
	ExchangeOrderID string
	FilledQty       decimal.Decimal
	AvgPrice        decimal.Decimal
	Retries         int
	LastEventTSMS   int64
	ParentID        string // set on a resend child order
	LastAmendAt     time.Time
	AmendsThisMin   int
	AmendWindowFrom time.Time
}

// Remaining returns the unfilled quantity.
func (m ManagedOrder) Remaining() decimal.Decimal {
	return m.Req.Qty.Sub(m.FilledQty)
}

// snapshot returns a value copy safe to hand to callers outside the lock.
func (m *ManagedOrder) snapshot() ManagedOrder { return *m }

// orderStore is the engine's mutex-guarded map of managed orders plus the
// inflight id set, matching spec §3's "ManagedOrder created at submit;
// mutated only by OMS; removed from inflight set on terminal state".
type orderStore struct {
	mu       sync.RWMutex
	orders   map[string]*ManagedOrder
	inflight map[string]bool
}

func newOrderStore() *orderStore {
	return &orderStore{orders: make(map[string]*ManagedOrder), inflight: make(map[string]bool)}
}

func (s *orderStore) get(id string) (*ManagedOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.orders[id]
	return m, ok
}

func (s *orderStore) isInflight(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight[id]
}

func (s *orderStore) put(id string, m *ManagedOrder, inflight bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[id] = m
	if inflight {
		s.inflight[id] = true
	}
}

func (s *orderStore) markInflight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[id] = true
}

func (s *orderStore) clearInflight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// snapshotNonTerminal returns every order id currently in a non-terminal
// state, used by process_timeouts and maintain_postonly_orders.
func (s *orderStore) snapshotNonTerminal() map[string]ManagedOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ManagedOrder)
	for id, m := range s.orders {
		if !m.State.Terminal() {
			out[id] = *m
		}
	}
	return out
}

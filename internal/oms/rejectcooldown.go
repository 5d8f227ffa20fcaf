package oms

import (
	"sync"
	"time"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// rejectWindow is a per-symbol sliding window of REJECTED events, used to
// trip a submit cooldown on a reject burst (spec §4.D). Structurally
// modeled on the rolling-window pattern the risk manager also uses, here
// generalized to one event kind per symbol.
type rejectWindow struct {
	mu            sync.Mutex
	events        map[exchange.Symbol][]time.Time
	cooldownUntil map[exchange.Symbol]time.Time
	threshold     int
	window        time.Duration
	cooldown      time.Duration
}

func newRejectWindow(threshold int, window, cooldown time.Duration) *rejectWindow {
	if threshold <= 0 {
		threshold = 3
	}
	return &rejectWindow{
		events:        make(map[exchange.Symbol][]time.Time),
		cooldownUntil: make(map[exchange.Symbol]time.Time),
		threshold:     threshold,
		window:        window,
		cooldown:      cooldown,
	}
}

// recordReject appends a reject observation for symbol and, if the
// symbol's reject count within the window reaches the threshold, starts a
// cooldown.
func (w *rejectWindow) recordReject(symbol exchange.Symbol, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	events := append(w.events[symbol], now)
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.events[symbol] = kept

	if len(kept) >= w.threshold {
		w.cooldownUntil[symbol] = now.Add(w.cooldown)
	}
}

// inCooldown reports whether symbol is currently blocked from new submits.
func (w *rejectWindow) inCooldown(symbol exchange.Symbol, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	until, ok := w.cooldownUntil[symbol]
	return ok && now.Before(until)
}

// cooldownRemaining returns how much longer symbol stays in cooldown, zero
// if not currently in cooldown. Surfaced to the ops-check row.
func (w *rejectWindow) cooldownRemaining(symbol exchange.Symbol, now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	until, ok := w.cooldownUntil[symbol]
	if !ok || !now.Before(until) {
		return 0
	}
	return until.Sub(now)
}

package oms

import "github.com/yoyowasa/crypto-neutral-bot/internal/exchange"

// StatusMap translates a venue's raw status string into an
// OrderLifecycleState. It is a configurable table rather than a hard-coded
// switch so venue-specific quirks (spec §9's Untriggered/NEW question) can
// be adjusted without a code change.
type StatusMap map[string]exchange.OrderLifecycleState

// DefaultStatusMap seeds the aliases the spec and its Python reference
// name explicitly. Untriggered is included for completeness against a
// Bybit-style conditional/stop-order status; this symbol-level spot/perp
// strategy never places conditional orders, so the alias is currently
// unreachable from Strategy's own order types.
func DefaultStatusMap() StatusMap {
	return StatusMap{
		"new":              exchange.StateSent,
		"open":             exchange.StateSent,
		"untriggered":      exchange.StateSent,
		"partiallyfilled":  exchange.StatePartiallyFilled,
		"partially_filled": exchange.StatePartiallyFilled,
		"partial":          exchange.StatePartiallyFilled,
		"filled":           exchange.StateFilled,
		"done":             exchange.StateFilled,
		"closed":           exchange.StateFilled,
		"cancelled":        exchange.StateCanceled,
		"canceled":         exchange.StateCanceled,
		"rejected":         exchange.StateRejected,
	}
}

// Resolve maps a venue status string to a lifecycle state, defaulting to
// StateSent for an unrecognized value (treated as "still live") rather
// than silently dropping the event.
func (m StatusMap) Resolve(raw string) exchange.OrderLifecycleState {
	if state, ok := m[normalizeStatus(raw)]; ok {
		return state
	}
	return exchange.StateSent
}

func normalizeStatus(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Package core provides clock, retry and error-kind primitives shared by
// every other package: a UTC-aware wall clock, a monotonic millisecond
// counter for timeouts/cooldowns, and an exponential-jitter retry wrapper
// gated on declared error kinds.
package core

import (
	"context"
	"time"
)

var processStart = time.Now()

// Now returns the current wall-clock time in UTC. Use this (never
// time.Now() directly) for anything that ends up in an audit record or is
// compared against a venue timestamp, so every timestamp in the system
// shares one timezone discipline.
func Now() time.Time {
	return time.Now().UTC()
}

// MonotonicMS returns a monotonically increasing millisecond counter
// anchored at process start. Use this for timeouts, cooldowns and
// reconnect backoff — never for audit timestamps, which must use Now().
func MonotonicMS() int64 {
	return time.Since(processStart).Milliseconds()
}

// SleepUntil blocks until t or ctx is done, whichever comes first.
func SleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

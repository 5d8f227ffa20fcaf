package core

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig tunes the exponential-jitter backoff loop in Do.
type RetryConfig struct {
	MaxAttempts    int           // total attempts including the first, >= 1
	InitialBackoff time.Duration // backoff before the first retry
	MaxBackoff     time.Duration // cap on backoff growth
	RetryableKinds []Kind        // only errors of these kinds are retried
}

// DefaultRetryConfig matches the attempt budget the teacher's resty
// clients use for REST (3 attempts, 500ms initial, 5s cap), generalised
// for non-REST callers of Do.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		RetryableKinds: []Kind{Transient, RateLimited, WsDisconnected},
	}
}

// Do runs fn, retrying with exponential jittered backoff while the
// returned error classifies (via errors.As into *Error) as one of
// cfg.RetryableKinds. Non-matching errors propagate immediately without
// being retried — this is a small hand-rolled loop rather than a pulled
// library because nothing in the codebase's dependency stack offers a
// generic retry combinator; REST retry continues to run through resty's
// own SetRetryCount/SetRetryWaitTime. The WS reconnect loop in
// internal/exchange/ws.go and the OMS child-order resend path keep their
// own backoff and retry counting and do not call Do.
func Do(ctx context.Context, fn func() error, cfg RetryConfig) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr, cfg.RetryableKinds) || attempt == cfg.MaxAttempts {
			return lastErr
		}

		jittered := jitter(backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}

func retryable(err error, kinds []Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for _, k := range kinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// jitter applies +/-25% full jitter around d, matching the "exponential
// jitter" naming used throughout the Python reference (tenacity's
// wait_exponential_jitter).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * 0.25
	delta := (rand.Float64()*2 - 1) * spread
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		return 0
	}
	return result
}

package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesRetryableKind(t *testing.T) {
	t.Parallel()
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RetryableKinds: []Kind{Transient},
	}
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return New(Transient, "connect timeout")
		}
		return nil
	}, cfg)
	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoDoesNotRetryNonRetryableKind(t *testing.T) {
	t.Parallel()
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		RetryableKinds: []Kind{Transient},
	}
	err := Do(context.Background(), func() error {
		calls++
		return New(InvalidRequest, "qty below min")
	}, cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (should not retry InvalidRequest)", calls)
	}
	if !Is(err, InvalidRequest) {
		t.Errorf("expected InvalidRequest kind, got %v", err)
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		RetryableKinds: []Kind{Transient},
	}
	err := Do(context.Background(), func() error {
		calls++
		return New(Transient, "still failing")
	}, cfg)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error {
		calls++
		return nil
	}, DefaultRetryConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (should not invoke fn on cancelled ctx)", calls)
	}
}

package core

import (
	"errors"
	"testing"
)

func TestNewErrorFormatsWithoutCause(t *testing.T) {
	t.Parallel()
	err := New(InvalidRequest, "qty below min")
	want := "invalid_request: qty below min"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapErrorFormatsWithCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(Transient, "rest dial failed", cause)
	want := "transient: rest dial failed: dial tcp: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrap should preserve the cause for errors.Is via Unwrap")
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	t.Parallel()
	err := Wrap(RateLimited, "429 from venue", errors.New("too many requests"))

	if !Is(err, RateLimited) {
		t.Error("Is(err, RateLimited) = false, want true")
	}
	if Is(err, Transient) {
		t.Error("Is(err, Transient) = true, want false")
	}
}

func TestIsReturnsFalseForPlainError(t *testing.T) {
	t.Parallel()
	plain := errors.New("boom")
	if Is(plain, Transient) {
		t.Error("Is() on a plain error should be false")
	}
}

func TestKindStringCoversAllKinds(t *testing.T) {
	t.Parallel()
	kinds := []Kind{
		Transient, RateLimited, WsDisconnected, WsStale, InvalidRequest,
		RiskBreach, AuthFailure, ExchangeError, DataError,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		if s == "unknown" {
			t.Errorf("Kind %d stringified as unknown", k)
		}
		if seen[s] {
			t.Errorf("Kind string %q reused by more than one Kind", s)
		}
		seen[s] = true
	}
}

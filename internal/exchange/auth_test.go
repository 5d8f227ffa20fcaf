package exchange

import (
	"testing"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
)

func TestAuthHeadersFailWithoutCredentials(t *testing.T) {
	t.Parallel()
	a := NewAuth(Credentials{})
	_, err := a.Headers(1000, "GET", "/v1/order", "")
	if !core.Is(err, core.AuthFailure) {
		t.Fatalf("expected AuthFailure, got %v", err)
	}
}

func TestAuthHeadersAreDeterministicForSamePayload(t *testing.T) {
	t.Parallel()
	a := NewAuth(Credentials{APIKey: "key1", Secret: "c2VjcmV0LWJ5dGVz"})
	h1, err := a.Headers(12345, "POST", "/v1/order", `{"symbol":"BTCUSDT"}`)
	if err != nil {
		t.Fatalf("Headers error: %v", err)
	}
	h2, err := a.Headers(12345, "POST", "/v1/order", `{"symbol":"BTCUSDT"}`)
	if err != nil {
		t.Fatalf("Headers error: %v", err)
	}
	if h1["X-SIGNATURE"] != h2["X-SIGNATURE"] {
		t.Error("same inputs should produce the same signature")
	}
	if h1["X-API-KEY"] != "key1" {
		t.Errorf("X-API-KEY = %q, want key1", h1["X-API-KEY"])
	}
}

func TestAuthHeadersDifferWhenPathDiffers(t *testing.T) {
	t.Parallel()
	a := NewAuth(Credentials{APIKey: "key1", Secret: "c2VjcmV0LWJ5dGVz"})
	h1, _ := a.Headers(12345, "GET", "/v1/order", "")
	h2, _ := a.Headers(12345, "GET", "/v1/positions", "")
	if h1["X-SIGNATURE"] == h2["X-SIGNATURE"] {
		t.Error("signatures for different paths should not collide")
	}
}

func TestWSAuthPayloadFailsWithoutCredentials(t *testing.T) {
	t.Parallel()
	a := NewAuth(Credentials{})
	_, _, _, err := a.WSAuthPayload(1000)
	if !core.Is(err, core.AuthFailure) {
		t.Fatalf("expected AuthFailure, got %v", err)
	}
}

func TestWSAuthPayloadReturnsApiKeyAndSignature(t *testing.T) {
	t.Parallel()
	a := NewAuth(Credentials{APIKey: "key1", Secret: "c2VjcmV0LWJ5dGVz"})
	apiKey, ts, sig, err := a.WSAuthPayload(99999)
	if err != nil {
		t.Fatalf("WSAuthPayload error: %v", err)
	}
	if apiKey != "key1" {
		t.Errorf("apiKey = %q, want key1", apiKey)
	}
	if ts != "99999" {
		t.Errorf("timestamp = %q, want 99999", ts)
	}
	if sig == "" {
		t.Error("signature should not be empty")
	}
}

func TestDecodeSecretFallsBackToRawBytes(t *testing.T) {
	t.Parallel()
	got := decodeSecret("not-valid-base64!!!")
	if string(got) != "not-valid-base64!!!" {
		t.Errorf("decodeSecret fallback = %q, want raw input", got)
	}
}

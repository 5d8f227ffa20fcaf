package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
)

// Credentials are the venue API key/secret pair used to sign private REST
// and WS requests. There is no on-chain signing leg here — the venue this
// gateway targets authenticates purely over HMAC, unlike a CLOB that also
// requires an EIP-712-signed order.
type Credentials struct {
	APIKey string
	Secret string
}

// Auth holds the active credentials and produces the headers/signatures the
// REST client and private WS attach to every authenticated request.
type Auth struct {
	creds Credentials
}

// NewAuth constructs an Auth from the given credentials.
func NewAuth(creds Credentials) *Auth {
	return &Auth{creds: creds}
}

// HasCredentials reports whether an API key/secret pair is configured. A
// gateway without credentials can still serve read-only market data but
// must refuse trading calls with an AuthFailure error.
func (a *Auth) HasCredentials() bool {
	return a.creds.APIKey != "" && a.creds.Secret != ""
}

// Headers returns the authentication headers for one REST request: the API
// key, the request timestamp, and an HMAC-SHA256 signature over
// timestamp+method+path[+body], base64-encoded. This is the sole signing
// mechanism in this gateway — the teacher's EIP-712/order-typed-data signing
// path has no analogue for a venue with no on-chain settlement leg.
func (a *Auth) Headers(timestampMS int64, method, path, body string) (map[string]string, error) {
	if !a.HasCredentials() {
		return nil, core.New(core.AuthFailure, "no API credentials configured")
	}
	ts := strconv.FormatInt(timestampMS, 10)
	sig, err := a.sign(ts + method + path + body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"X-API-KEY":   a.creds.APIKey,
		"X-TIMESTAMP": ts,
		"X-SIGNATURE": sig,
	}, nil
}

// WSAuthPayload returns the timestamp and signature a private WS connection
// sends in its auth frame, signing over "GET/realtime" plus the timestamp
// the way Bybit-v5-style venues expect.
func (a *Auth) WSAuthPayload(timestampMS int64) (apiKey, timestamp, signature string, err error) {
	if !a.HasCredentials() {
		return "", "", "", core.New(core.AuthFailure, "no API credentials configured")
	}
	ts := strconv.FormatInt(timestampMS, 10)
	sig, err := a.sign("GET/realtime" + ts)
	if err != nil {
		return "", "", "", err
	}
	return a.creds.APIKey, ts, sig, nil
}

func (a *Auth) sign(payload string) (string, error) {
	key := decodeSecret(a.creds.Secret)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decodeSecret tries, in order, the encodings a venue secret might arrive
// in: padded URL-safe base64, padded standard base64, unpadded URL-safe
// base64, and — if none decodes cleanly — the secret's raw bytes. Mirrors the teacher's HMAC helper,
// which has to tolerate the same ambiguity in how operators paste secrets.
func decodeSecret(secret string) []byte {
	if b, err := base64.URLEncoding.DecodeString(secret); err == nil {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(secret); err == nil {
		return b
	}
	if b, err := base64.RawURLEncoding.DecodeString(secret); err == nil {
		return b
	}
	return []byte(secret)
}

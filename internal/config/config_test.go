package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const minimalPaperYAML = `
mode: paper
strategy:
  symbols: ["BTCUSDT"]
`

func TestLoadAndValidatePaperMode(t *testing.T) {
	path := writeTempConfig(t, minimalPaperYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Mode != "paper" {
		t.Fatalf("mode = %q, want paper", cfg.Mode)
	}
}

func TestValidateRequiresSymbols(t *testing.T) {
	path := writeTempConfig(t, "mode: paper\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a config with no symbols")
	}
}

func TestValidateRejectsLiveModeWithoutCredentials(t *testing.T) {
	path := writeTempConfig(t, `
mode: live
strategy:
  symbols: ["BTCUSDT"]
venue:
  rest_base_url: "https://example.invalid"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject live mode without api_key/secret")
	}
}

// Mainnet without allow_live=true must refuse to start even with valid
// credentials (spec §6: "non-zero on config-error (mainnet without
// allow_live=true)").
func TestValidateRejectsMainnetWithoutAllowLive(t *testing.T) {
	path := writeTempConfig(t, `
mode: live
env: mainnet
strategy:
  symbols: ["BTCUSDT"]
venue:
  rest_base_url: "https://example.invalid"
  api_key: "k"
  secret: "s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject mainnet without allow_live=true")
	}

	cfg.AllowLive = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with allow_live=true: %v", err)
	}
}

func TestLimitsConfigFallsBackToDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalPaperYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	limits := cfg.LimitsConfig()
	if limits.MaxTotalNotional.IsZero() {
		t.Fatal("expected a non-zero default max_total_notional")
	}
}

func TestSymbolsConvertsToExchangeSymbols(t *testing.T) {
	path := writeTempConfig(t, `
mode: paper
strategy:
  symbols: ["BTCUSDT", "ETHUSDT"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	symbols := cfg.Symbols()
	if len(symbols) != 2 || string(symbols[0]) != "BTCUSDT" || string(symbols[1]) != "ETHUSDT" {
		t.Fatalf("symbols = %v, want [BTCUSDT ETHUSDT]", symbols)
	}
}

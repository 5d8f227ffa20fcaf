package engine

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yoyowasa/crypto-neutral-bot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadPaperConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	yaml := `
mode: paper
strategy:
  symbols: ["BTCUSDT"]
store:
  data_dir: "` + filepath.ToSlash(dir) + `"
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

// New wires a paper-mode Engine end to end (gateway, OMS, strategy, risk,
// audit sink, holdings store) without starting any goroutines, and Stop
// flushes cleanly even though nothing ever ran.
func TestNewWiresPaperModeEngineAndStopIsClean(t *testing.T) {
	cfg := loadPaperConfig(t)

	e, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Gateway() == nil {
		t.Fatal("expected a non-nil Gateway")
	}
	if e.OMS() == nil {
		t.Fatal("expected a non-nil OMS engine")
	}
	if e.Risk() == nil {
		t.Fatal("expected a non-nil Risk manager")
	}
	if e.Strategy() == nil {
		t.Fatal("expected a non-nil Strategy")
	}
	if e.FillAccumulator() == nil {
		t.Fatal("expected a non-nil FillAccumulator")
	}
	if len(e.Symbols()) != 1 || string(e.Symbols()[0]) != "BTCUSDT" {
		t.Fatalf("symbols = %v, want [BTCUSDT]", e.Symbols())
	}

	e.Stop()
}

// FlattenOnExit drains (trivially, with nothing inflight) and flattens
// before the engine shuts down; it must not hang or panic.
func TestStopWithFlattenOnExitDrainsBeforeShutdown(t *testing.T) {
	cfg := loadPaperConfig(t)
	cfg.FlattenOnExit = true

	e, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

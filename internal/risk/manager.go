package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// Config tunes the Risk Manager's kill thresholds (spec §4.F / §6).
// Grounded on `original_source/bot/risk/guards.py`'s constructor keywords.
type Config struct {
	LossCutDaily              decimal.Decimal
	WsDisconnectThresholdSec  float64
	HedgeDelayP95ThresholdSec float64
	ApiErrorMaxIn60s          int
	FundingFlipMinAbs         decimal.Decimal
	FundingFlipConsecutive    int
	// FundingFlipAsymmetric resolves spec §9's Open Question: when only
	// one of |prev|/|new| clears FundingFlipMinAbs, true treats that as a
	// flip candidate (asymmetric, matching a literal reading of the
	// Python `and` becoming effectively `or` once one side is noise);
	// false (default) requires BOTH sides to clear the floor before a
	// sign change counts, which is the safer reading and what this
	// implementation defaults to.
	FundingFlipAsymmetric bool
}

// DefaultConfig mirrors the Python reference's keyword defaults.
func DefaultConfig() Config {
	return Config{
		LossCutDaily:              decimal.NewFromInt(100000),
		WsDisconnectThresholdSec:  30.0,
		HedgeDelayP95ThresholdSec: 2.0,
		ApiErrorMaxIn60s:          10,
		FundingFlipMinAbs:         decimal.Zero,
		FundingFlipConsecutive:    1,
		FundingFlipAsymmetric:     false,
	}
}

type fundingFlipState struct {
	lastRate decimal.Decimal
	hasLast  bool
	count    int
}

// Manager is the Risk Manager (spec §4.F). It is a pure post-trade
// monitor — pre-trade checks live in limits.go's PrecheckOpenOrder — that
// fires an idempotent flatten-all kill when any monitored condition
// breaches its threshold.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu               sync.Mutex
	killed           bool
	disableNewOrders bool
	killedAt         time.Time
	killReason       string

	apiErrors      *eventCounter
	hedgeLatencies *slidingWindow
	fundingFlips   map[exchange.Symbol]*fundingFlipState

	// flatProbe reports current net exposure; when non-nil and it returns
	// zero, a funding-sign-flip kill is suppressed (the strategy already
	// carries no position to protect). Set post-construction by Strategy
	// to break the Risk→Strategy constructor cycle.
	flatProbe func() decimal.Decimal

	// flattenAll is invoked (in its own goroutine) the first time a kill
	// fires. Set post-construction by Strategy for the same reason.
	flattenAll func(ctx context.Context) error

	// killCh signals any listener (e.g. the Runner's shutdown path, the
	// dashboard) that a kill just fired. Drained-then-refilled so the
	// latest kill is never stuck behind a stale one, mirroring the
	// teacher's emitKill idiom.
	killCh chan struct{}
}

// NewManager constructs a Risk Manager. flattenAll and the flat-probe are
// wired later via SetFlattenAll/SetFlatProbe once Strategy exists.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:            cfg,
		logger:         logger.With("component", "risk"),
		apiErrors:      newEventCounter(60.0),
		hedgeLatencies: newSlidingWindow(200),
		fundingFlips:   make(map[exchange.Symbol]*fundingFlipState),
		killCh:         make(chan struct{}, 1),
	}
}

// SetFlattenAll wires the callback invoked on kill. Must be called before
// any kill condition can fire in production; tests may leave it unset to
// observe KillCh()/IsKilled() without a live flatten path.
func (m *Manager) SetFlattenAll(fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flattenAll = fn
}

// SetFlatProbe wires the net-exposure probe used to suppress a
// funding-flip kill once the portfolio carries no position.
func (m *Manager) SetFlatProbe(fn func() decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flatProbe = fn
}

// KillCh signals once per kill event.
func (m *Manager) KillCh() <-chan struct{} { return m.killCh }

// IsKilled reports whether the flatten-all latch has fired.
func (m *Manager) IsKilled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

// DisableNewOrders reports whether new order submission should be
// refused (set the instant a kill fires, and never cleared — the spec
// treats a kill as a latch, not a cooldown).
func (m *Manager) DisableNewOrders() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableNewOrders
}

// KillReason returns the reason the latch fired, empty if it hasn't.
func (m *Manager) KillReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killReason
}

// UpdateDailyPnL records today's net realized+unrealized PnL and kills if
// it breaches −LossCutDaily.
func (m *Manager) UpdateDailyPnL(netPnL decimal.Decimal) {
	if netPnL.LessThan(m.cfg.LossCutDaily.Neg()) {
		m.triggerKill(fmt.Sprintf("daily loss cut: %s < -%s", netPnL, m.cfg.LossCutDaily))
	}
}

// RecordWsDisconnected records an observed private-WS disconnect duration
// and kills if it exceeds the configured threshold.
func (m *Manager) RecordWsDisconnected(durationSec float64) {
	if durationSec > m.cfg.WsDisconnectThresholdSec {
		m.triggerKill(fmt.Sprintf("ws disconnected %.1fs", durationSec))
	}
}

// RecordHedgeLatency records a hedge submit-to-fill latency sample and
// kills if the p95 over the last (up to) 200 samples breaches the
// threshold, once at least 20 samples have accumulated.
func (m *Manager) RecordHedgeLatency(seconds float64) {
	m.mu.Lock()
	m.hedgeLatencies.add(seconds)
	n := m.hedgeLatencies.len()
	var p95 float64
	if n >= 20 {
		p95 = m.hedgeLatencies.percentile(95.0)
	}
	m.mu.Unlock()

	if n >= 20 && p95 > m.cfg.HedgeDelayP95ThresholdSec {
		m.triggerKill(fmt.Sprintf("hedge latency p95 %.3fs", p95))
	}
}

// RecordAPIError records an API-error timestamp and kills on a burst
// exceeding ApiErrorMaxIn60s within a 60s window.
func (m *Manager) RecordAPIError(now time.Time) {
	m.mu.Lock()
	n := m.apiErrors.record(float64(now.UnixNano()) / 1e9)
	m.mu.Unlock()

	if n > m.cfg.ApiErrorMaxIn60s {
		m.triggerKill(fmt.Sprintf("api errors burst %d/60s", n))
	}
}

// UpdateFundingPredicted applies the exact hysteresis the Python
// reference implements: no prior observation is a no-op; if both
// |prev| and |new| stay under FundingFlipMinAbs the observation is pure
// noise and the flip counter resets; a genuine sign change increments a
// per-symbol counter and kills once it reaches FundingFlipConsecutive;
// anything else resets the counter. The kill is suppressed if a flat
// probe is wired and currently reports zero exposure.
func (m *Manager) UpdateFundingPredicted(symbol exchange.Symbol, predictedRate decimal.Decimal) {
	m.mu.Lock()
	st, ok := m.fundingFlips[symbol]
	if !ok {
		st = &fundingFlipState{}
		m.fundingFlips[symbol] = st
	}

	if !st.hasLast {
		st.lastRate = predictedRate
		st.hasLast = true
		st.count = 0
		m.mu.Unlock()
		return
	}

	prev := st.lastRate
	st.lastRate = predictedRate

	prevClears := prev.Abs().GreaterThanOrEqual(m.cfg.FundingFlipMinAbs)
	newClears := predictedRate.Abs().GreaterThanOrEqual(m.cfg.FundingFlipMinAbs)

	var clearsFloor bool
	if m.cfg.FundingFlipAsymmetric {
		clearsFloor = prevClears || newClears
	} else {
		clearsFloor = prevClears && newClears
	}
	if !clearsFloor {
		st.count = 0
		m.mu.Unlock()
		return
	}

	isFlip := prev.Sign() != 0 && predictedRate.Sign() != 0 && prev.Sign() != predictedRate.Sign()
	if !isFlip {
		st.count = 0
		m.mu.Unlock()
		return
	}

	st.count++
	fire := st.count >= maxInt(1, m.cfg.FundingFlipConsecutive)
	if fire {
		st.count = 0
	}
	flatProbe := m.flatProbe
	m.mu.Unlock()

	if !fire {
		return
	}
	if flatProbe != nil && flatProbe().IsZero() {
		m.logger.Info("funding sign flip suppressed: portfolio flat", "symbol", symbol)
		return
	}
	m.triggerKill(fmt.Sprintf("funding sign flip %s: %s -> %s", symbol, prev, predictedRate))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// triggerKill is idempotent: only the first call latches disableNewOrders
// and invokes flattenAll. Mirrors the Python `_trigger_kill`'s
// already-killed short circuit.
func (m *Manager) triggerKill(reason string) {
	m.mu.Lock()
	if m.killed {
		m.mu.Unlock()
		return
	}
	m.killed = true
	m.disableNewOrders = true
	m.killedAt = core.Now()
	m.killReason = reason
	flatten := m.flattenAll
	m.mu.Unlock()

	m.logger.Error("KILL SWITCH", "reason", reason)

	select {
	case m.killCh <- struct{}{}:
	default:
		select {
		case <-m.killCh:
		default:
		}
		m.killCh <- struct{}{}
	}

	if flatten != nil {
		go func() {
			if err := flatten(context.Background()); err != nil {
				m.logger.Error("flatten_all failed", "err", err)
			}
		}()
	}
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// SQLStore is the optional durable persistence layer (spec §6): trade_log,
// order_log, position_snap, funding_event and daily_pnl tables in a single
// pure-Go SQLite file, so a deployment that wants queryable history
// doesn't need a CGO toolchain or an external database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if absent) a SQLite database at path and runs its
// schema migration.
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS order_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			qty TEXT NOT NULL,
			price TEXT NOT NULL,
			status TEXT NOT NULL,
			client_order_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty TEXT NOT NULL,
			price TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			exchange_order_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS position_snap (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			symbol TEXT NOT NULL,
			spot_qty TEXT NOT NULL,
			spot_avg_price TEXT NOT NULL,
			perp_qty TEXT NOT NULL,
			perp_avg_price TEXT NOT NULL,
			hold_periods INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS funding_event (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			symbol TEXT NOT NULL,
			rate TEXT NOT NULL,
			qty TEXT NOT NULL,
			amount TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_pnl (
			date TEXT PRIMARY KEY,
			net_pnl TEXT NOT NULL,
			round_trips INTEGER NOT NULL,
			win_rate TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// LogOrder implements oms.AuditSink, inserting one order_log row. SQLStore
// can be wired in place of (or alongside) audit.JSONLSink wherever a
// deployment wants queryable order history.
func (s *SQLStore) LogOrder(symbol exchange.Symbol, side exchange.Side, typ exchange.OrderType, qty, price decimal.Decimal, status, clientOrderID string) {
	s.db.Exec(`INSERT INTO order_log (ts, symbol, side, type, qty, price, status, client_order_id) VALUES (?,?,?,?,?,?,?,?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(symbol), string(side), string(typ), qty.String(), price.String(), status, clientOrderID)
}

// LogFill implements oms.AuditSink, inserting one trade_log row.
func (s *SQLStore) LogFill(symbol exchange.Symbol, side exchange.Side, qty, price decimal.Decimal, clientOrderID, exchangeOrderID string) {
	s.db.Exec(`INSERT INTO trade_log (ts, symbol, side, qty, price, client_order_id, exchange_order_id) VALUES (?,?,?,?,?,?,?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(symbol), string(side), qty.String(), price.String(), clientOrderID, exchangeOrderID)
}

// LogPositionSnapshot records one symbol's current two-leg holding state,
// typically called alongside Holdings.Snapshot on every Save.
func (s *SQLStore) LogPositionSnapshot(h exchange.Holding) error {
	_, err := s.db.Exec(`INSERT INTO position_snap (ts, symbol, spot_qty, spot_avg_price, perp_qty, perp_avg_price, hold_periods) VALUES (?,?,?,?,?,?,?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(h.Symbol), h.SpotQty.String(), h.SpotAvgPrice.String(), h.PerpQty.String(), h.PerpAvgPrice.String(), h.HoldPeriods)
	return err
}

// LogFundingEvent records one funding-payment accrual for symbol.
func (s *SQLStore) LogFundingEvent(symbol exchange.Symbol, rate, qty, amount decimal.Decimal) error {
	_, err := s.db.Exec(`INSERT INTO funding_event (ts, symbol, rate, qty, amount) VALUES (?,?,?,?,?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(symbol), rate.String(), qty.String(), amount.String())
	return err
}

// LogDailyPnL upserts one day's aggregate PnL row, keyed by date
// (YYYY-MM-DD).
func (s *SQLStore) LogDailyPnL(date string, netPnL decimal.Decimal, roundTrips int, winRate decimal.Decimal) error {
	_, err := s.db.Exec(`INSERT INTO daily_pnl (date, net_pnl, round_trips, win_rate) VALUES (?,?,?,?)
		ON CONFLICT(date) DO UPDATE SET net_pnl=excluded.net_pnl, round_trips=excluded.round_trips, win_rate=excluded.win_rate`,
		date, netPnL.String(), roundTrips, winRate.String())
	return err
}

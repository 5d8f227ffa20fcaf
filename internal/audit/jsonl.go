// Package audit is the append-only audit trail and round-trip PnL
// aggregator (spec §4.I / §6). JSONLSink satisfies oms.AuditSink so the
// OMS can log every order/fill without importing this package back.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoyowasa/crypto-neutral-bot/internal/core"
	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// orderRecord and fillRecord are the JSONL line shapes written to
// order_log.jsonl and trade_log.jsonl respectively (spec §6 artifacts).
type orderRecord struct {
	TS            string          `json:"ts"`
	Symbol        exchange.Symbol `json:"symbol"`
	Side          exchange.Side   `json:"side"`
	Type          exchange.OrderType `json:"type"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"status"`
	ClientOrderID string          `json:"client_order_id"`
}

type fillRecord struct {
	TS              string          `json:"ts"`
	Symbol          exchange.Symbol `json:"symbol"`
	Side            exchange.Side   `json:"side"`
	Qty             decimal.Decimal `json:"qty"`
	Price           decimal.Decimal `json:"price"`
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id"`
}

// JSONLSink appends order and fill records to two separate append-only
// JSONL files under dir, one record per line, flushed on every write. This
// mirrors the teacher's crash-safe file persistence style (open-append,
// no buffering that could lose a record on a crash).
type JSONLSink struct {
	mu        sync.Mutex
	orderFile *os.File
	fillFile  *os.File
}

// NewJSONLSink opens (creating if absent) order_log.jsonl and
// trade_log.jsonl under dir in append mode.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	orderFile, err := os.OpenFile(filepath.Join(dir, "order_log.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open order_log.jsonl: %w", err)
	}
	fillFile, err := os.OpenFile(filepath.Join(dir, "trade_log.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		orderFile.Close()
		return nil, fmt.Errorf("open trade_log.jsonl: %w", err)
	}
	return &JSONLSink{orderFile: orderFile, fillFile: fillFile}, nil
}

// Close flushes and closes both underlying files.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err1 := s.orderFile.Close()
	err2 := s.fillFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// LogOrder implements oms.AuditSink, appending one order_log.jsonl line.
func (s *JSONLSink) LogOrder(symbol exchange.Symbol, side exchange.Side, typ exchange.OrderType, qty, price decimal.Decimal, status, clientOrderID string) {
	rec := orderRecord{
		TS:            core.Now().Format(time.RFC3339Nano),
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		Qty:           qty,
		Price:         price,
		Status:        status,
		ClientOrderID: clientOrderID,
	}
	s.appendLine(s.orderFile, rec)
}

// LogFill implements oms.AuditSink, appending one trade_log.jsonl line.
func (s *JSONLSink) LogFill(symbol exchange.Symbol, side exchange.Side, qty, price decimal.Decimal, clientOrderID, exchangeOrderID string) {
	rec := fillRecord{
		TS:              core.Now().Format(time.RFC3339Nano),
		Symbol:          symbol,
		Side:            side,
		Qty:             qty,
		Price:           price,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: exchangeOrderID,
	}
	s.appendLine(s.fillFile, rec)
}

func (s *JSONLSink) appendLine(f *os.File, rec any) {
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b = append(b, '\n')
	f.Write(b)
}

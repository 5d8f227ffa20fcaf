package api

import (
	"time"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// DashboardEvent is the wrapper for all events pushed to the dashboard feed.
type DashboardEvent struct {
	Type      string      `json:"type"` // "snapshot", "fill", "order", "holding", "kill"
	Timestamp time.Time   `json:"timestamp"`
	Symbol    string      `json:"symbol,omitempty"`
	Data      interface{} `json:"data"`
}

// FillEvent reports an execution against a managed order.
type FillEvent struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	LastFillQty   float64 `json:"last_fill_qty"`
	LastFillPrice float64 `json:"last_fill_price"`
	FilledQty     float64 `json:"filled_qty"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
}

// OrderEvent reports a lifecycle transition for a managed order.
type OrderEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// KillEvent is emitted when the risk manager's kill switch activates.
type KillEvent struct {
	Reason string `json:"reason"`
}

// NewFillEvent builds a FillEvent from a venue execution report.
func NewFillEvent(evt exchange.ExecutionEvent) FillEvent {
	lastQty, _ := evt.LastFillQty.Float64()
	lastPx, _ := evt.LastFillPrice.Float64()
	filled, _ := evt.FilledQty.Float64()
	avgPx, _ := evt.AvgFillPrice.Float64()
	return FillEvent{
		OrderID:       evt.OrderID,
		ClientOrderID: evt.ClientOrderID,
		LastFillQty:   lastQty,
		LastFillPrice: lastPx,
		FilledQty:     filled,
		AvgFillPrice:  avgPx,
	}
}

// NewOrderEvent builds an OrderEvent from a venue execution report.
func NewOrderEvent(evt exchange.ExecutionEvent) OrderEvent {
	return OrderEvent{OrderID: evt.OrderID, Status: evt.Status}
}

// NewKillEvent builds a KillEvent from the risk manager's kill reason.
func NewKillEvent(reason string) KillEvent {
	return KillEvent{Reason: reason}
}

package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the venue-agnostic trading and market-data surface that OMS and
// Strategy depend on. LiveGateway implements it against the live REST/WS venue;
// paper.Exchange implements it as an in-memory fill simulator so the same
// OMS/Strategy code drives both live trading and backtests.
type Gateway interface {
	GetBalances(ctx context.Context) ([]Balance, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context, symbol Symbol) ([]Order, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol Symbol, orderID, clientOrderID string) error
	AmendOrder(ctx context.Context, symbol Symbol, orderID, clientOrderID string, newPrice, newQty *decimal.Decimal) (Order, error)

	GetTicker(ctx context.Context, symbol Symbol) (BBO, error)
	GetFundingInfo(ctx context.Context, symbol Symbol) (FundingInfo, error)
	GetInstrumentMeta(ctx context.Context, symbol Symbol) (InstrumentMeta, error)

	SubscribePublic(ctx context.Context, symbols []Symbol) (<-chan BBO, error)
	SubscribePrivate(ctx context.Context) (<-chan ExecutionEvent, error)
}

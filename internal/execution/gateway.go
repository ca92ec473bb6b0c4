package execution

import (
	"context"

	"github.com/quantex/algo-engine/internal/types"
)

// Account mirrors the broker account summary.
type Account struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	FreeMargin  float64 `json:"free_margin"`
	Margin      float64 `json:"margin"`
	MarginLevel float64 `json:"margin_level"`
}

// OrderRequest is one child order sent to the broker.
type OrderRequest struct {
	OrderID    string
	Symbol     string
	Side       types.Side
	Quantity   float64
	OrderType  types.OrderType
	LimitPrice float64 // required for LIMIT orders
}

// OrderResult is the broker's view of an order after placement or polling.
// Market orders resolve immediately; limit orders may rest as PENDING.
type OrderResult struct {
	OrderID    string
	Status     types.OrderStatus
	FilledQty  float64
	AvgPrice   float64
	Commission float64
}

// OrderGateway places and cancels child orders and reports account state.
// Cancellation is best-effort: an order already resolved stays resolved.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	OrderStatus(ctx context.Context, orderID string) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	AccountInfo(ctx context.Context) (Account, error)
}

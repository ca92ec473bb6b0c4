package execution

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantex/algo-engine/internal/types"
)

// allowed maps each order status to the statuses it may move to.
// PENDING fans out to everything; PARTIAL may still complete or be cancelled;
// FILLED, REJECTED and CANCELLED are final.
var allowed = map[types.OrderStatus][]types.OrderStatus{
	types.OrderStatusPending: {
		types.OrderStatusPartial,
		types.OrderStatusFilled,
		types.OrderStatusRejected,
		types.OrderStatusCancelled,
	},
	types.OrderStatusPartial: {
		types.OrderStatusPartial,
		types.OrderStatusFilled,
		types.OrderStatusCancelled,
	},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to types.OrderStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the order to the next status, enforcing the state machine.
func Transition(o *types.ExecutionOrder, to types.OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("order %s: illegal transition %s -> %s", o.OrderID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

// ApplyFill records a (possibly partial) fill and advances the status.
func ApplyFill(o *types.ExecutionOrder, qty, price, commission float64) error {
	if qty <= 0 {
		return fmt.Errorf("order %s: non-positive fill quantity %.4f", o.OrderID, qty)
	}
	if qty > o.Remaining() {
		qty = o.Remaining()
	}

	filledValue := o.AvgPrice*o.FilledQty + price*qty
	o.FilledQty += qty
	o.AvgPrice = filledValue / o.FilledQty
	o.Commission += commission

	next := types.OrderStatusPartial
	if o.Remaining() <= 0 {
		next = types.OrderStatusFilled
	}
	return Transition(o, next)
}

// newChildOrder creates a PENDING child order for a scheduler session.
func newChildOrder(sessionID, signalID, symbol string, side types.Side, qty float64, orderType types.OrderType, limitPrice float64) *types.ExecutionOrder {
	now := time.Now()
	return &types.ExecutionOrder{
		OrderID:    uuid.New().String(),
		SignalID:   signalID,
		SessionID:  sessionID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		OrderType:  orderType,
		LimitPrice: limitPrice,
		Status:     types.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

package types

import (
	"time"

	"gorm.io/gorm"
)

// Side is the direction of a signal or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType selects how an order is priced.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an ExecutionOrder.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// Direction is the sign of an open position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
)

// AlgoState is the runtime state of a strategy or execution scheduler.
type AlgoState string

const (
	AlgoActive  AlgoState = "ACTIVE"
	AlgoPaused  AlgoState = "PAUSED"
	AlgoStopped AlgoState = "STOPPED"
	AlgoError   AlgoState = "ERROR"
)

// TradingSignal is a single trade recommendation emitted by a strategy.
// It is immutable once created and consumed exactly once by the risk gate.
type TradingSignal struct {
	SignalID    string                 `json:"signal_id"`
	Symbol      string                 `json:"symbol"`
	Action      Side                   `json:"action"`
	TargetPrice float64                `json:"target_price"`
	Volume      float64                `json:"volume"`
	OrderType   OrderType              `json:"order_type"`
	Confidence  float64                `json:"confidence"` // 0-100, capped at 95
	Timeframe   string                 `json:"timeframe"`
	Strategy    string                 `json:"strategy"`
	StopLoss    float64                `json:"stop_loss,omitempty"`
	TakeProfit  float64                `json:"take_profit,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Notional is the estimated trade value of the signal.
func (s *TradingSignal) Notional() float64 {
	return s.Volume * s.TargetPrice
}

// ExecutionOrder is a child order created by an execution scheduler.
type ExecutionOrder struct {
	gorm.Model `json:"-"`
	OrderID    string      `gorm:"uniqueIndex" json:"order_id"`
	SignalID   string      `json:"signal_id,omitempty"` // empty for scheduler-internal slices
	SessionID  string      `json:"session_id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Quantity   float64     `json:"quantity"`
	FilledQty  float64     `json:"filled_qty"`
	OrderType  OrderType   `json:"order_type"`
	LimitPrice float64     `json:"limit_price,omitempty"`
	AvgPrice   float64     `json:"avg_price"`
	Status     OrderStatus `json:"status"`
	Commission float64     `json:"commission"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Remaining is the quantity still unfilled.
func (o *ExecutionOrder) Remaining() float64 {
	r := o.Quantity - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// Position is one open holding, owned by the strategy that opened it.
type Position struct {
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	Strategy      string    `json:"strategy"`
}

// MarketValue is the absolute value of the position at the current price.
func (p *Position) MarketValue() float64 {
	v := p.Quantity * p.CurrentPrice
	if v < 0 {
		return -v
	}
	return v
}

// Portfolio is the aggregate account view, recomputed from positions.
type Portfolio struct {
	Balance       float64    `json:"balance"`
	Equity        float64    `json:"equity"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	RealizedPnL   float64    `json:"realized_pnl"`
	Margin        float64    `json:"margin"`
	FreeMargin    float64    `json:"free_margin"`
	Positions     []Position `json:"positions"`
}

// Exposure returns total position market value over equity, 0 when equity is 0.
func (p *Portfolio) Exposure() float64 {
	if p.Equity <= 0 {
		return 0
	}
	total := 0.0
	for i := range p.Positions {
		total += p.Positions[i].MarketValue()
	}
	return total / p.Equity
}

// AlgoStatus is the runtime record for one strategy or scheduler instance.
type AlgoStatus struct {
	Name          string                 `json:"name"`
	State         AlgoState              `json:"state"`
	PnL           float64                `json:"pnl"`
	TradeCount    int                    `json:"trade_count"`
	SuccessRate   float64                `json:"success_rate"`
	LastExecution time.Time              `json:"last_execution,omitempty"`
	Config        map[string]interface{} `json:"config,omitempty"`
}

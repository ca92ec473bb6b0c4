package execution

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/types"
)

// SimGatewayConfig tunes the simulated broker.
type SimGatewayConfig struct {
	Balance        float64
	SuccessRate    float64 // probability a market order executes at all
	LiquidityRatio float64 // probability a fill is complete rather than partial
	SlippagePct    float64 // max price variance applied to market fills
	FeeRate        float64 // commission as a fraction of fill value
	FillDecay      float64 // limit-order fill probability decay per % of distance
	MinLatency     time.Duration
	MaxLatency     time.Duration
}

// DefaultSimGatewayConfig matches a liquid primary venue.
func DefaultSimGatewayConfig() SimGatewayConfig {
	return SimGatewayConfig{
		Balance:        100000,
		SuccessRate:    0.95,
		LiquidityRatio: 0.85,
		SlippagePct:    0.002,
		FeeRate:        0.001,
		FillDecay:      3.0,
	}
}

type restingOrder struct {
	req    OrderRequest
	result OrderResult
}

// SimGateway is a simulated broker: market orders resolve immediately with
// slippage, liquidity and rejection modeled from the injected RNG; limit
// orders rest and fill with a probability that decays with the distance
// between the current price and the limit.
type SimGateway struct {
	mu      sync.Mutex
	cfg     SimGatewayConfig
	rng     *rand.Rand
	source  marketdata.Source
	resting map[string]*restingOrder
	equity  float64
}

func NewSimGateway(cfg SimGatewayConfig, source marketdata.Source, rng *rand.Rand) *SimGateway {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SimGateway{
		cfg:     cfg,
		rng:     rng,
		source:  source,
		resting: make(map[string]*restingOrder),
		equity:  cfg.Balance,
	}
}

// PlaceOrder implements OrderGateway.
func (g *SimGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	if req.Quantity <= 0 {
		return OrderResult{}, fmt.Errorf("order %s: non-positive quantity", req.OrderID)
	}
	g.simulateLatency()

	snap, err := g.source.GetSnapshot(req.Symbol)
	if err != nil {
		return OrderResult{}, fmt.Errorf("placing order %s: %w", req.OrderID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	logger := log.With().
		Str("component", "sim_gateway").
		Str("order_id", req.OrderID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Logger()

	if req.OrderType == types.OrderTypeMarket {
		res := g.fillMarketLocked(req, snap)
		logger.Debug().Str("status", string(res.Status)).Float64("avg_price", res.AvgPrice).Msg("market order resolved")
		return res, nil
	}

	// Limit order: fill immediately when it crosses the book, otherwise rest.
	if crossesMarket(req, snap) {
		res := g.fillAtLocked(req, req.LimitPrice, req.Quantity)
		logger.Debug().Float64("limit", req.LimitPrice).Msg("limit order filled on arrival")
		return res, nil
	}

	res := OrderResult{OrderID: req.OrderID, Status: types.OrderStatusPending}
	g.resting[req.OrderID] = &restingOrder{req: req, result: res}
	logger.Debug().Float64("limit", req.LimitPrice).Msg("limit order resting")
	return res, nil
}

// OrderStatus implements OrderGateway. Each poll of a resting limit order may
// resolve it: fills grow likelier the closer the market is to the limit, and
// far-away slices are eventually rejected by the venue.
func (g *SimGateway) OrderStatus(ctx context.Context, orderID string) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}

	g.mu.Lock()
	ro, ok := g.resting[orderID]
	g.mu.Unlock()
	if !ok {
		return OrderResult{}, fmt.Errorf("order %s not found", orderID)
	}
	if ro.result.Status.Terminal() {
		return ro.result, nil
	}

	snap, err := g.source.GetSnapshot(ro.req.Symbol)
	if err != nil {
		return ro.result, nil // no data, order simply stays resting
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	distPct := limitDistancePct(ro.req, snap)
	if distPct <= 0 {
		ro.result = g.fillAtLocked(ro.req, ro.req.LimitPrice, ro.req.Quantity)
		delete(g.resting, ro.req.OrderID)
		return ro.result, nil
	}

	fillProb := g.cfg.SuccessRate * math.Exp(-g.cfg.FillDecay*distPct)
	roll := g.rng.Float64()
	switch {
	case roll < fillProb:
		ro.result = g.fillAtLocked(ro.req, ro.req.LimitPrice, ro.req.Quantity)
		delete(g.resting, ro.req.OrderID)
	case roll > 1-rejectProbability(distPct):
		ro.result.Status = types.OrderStatusRejected
		delete(g.resting, ro.req.OrderID)
		log.Debug().
			Str("component", "sim_gateway").
			Str("order_id", ro.req.OrderID).
			Float64("distance_pct", distPct).
			Msg("resting order rejected by venue")
	}
	return ro.result, nil
}

// CancelOrder implements OrderGateway. Cancelling an already resolved order is
// a no-op acknowledgement.
func (g *SimGateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ro, ok := g.resting[orderID]
	if !ok {
		return nil
	}
	if !ro.result.Status.Terminal() {
		ro.result.Status = types.OrderStatusCancelled
	}
	delete(g.resting, orderID)
	log.Debug().
		Str("component", "sim_gateway").
		Str("order_id", orderID).
		Msg("order cancelled")
	return nil
}

// AccountInfo implements OrderGateway.
func (g *SimGateway) AccountInfo(ctx context.Context) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return Account{
		Balance:     g.cfg.Balance,
		Equity:      g.equity,
		FreeMargin:  g.equity,
		MarginLevel: 100,
	}, nil
}

func (g *SimGateway) fillMarketLocked(req OrderRequest, snap marketdata.Snapshot) OrderResult {
	if g.rng.Float64() > g.cfg.SuccessRate {
		return OrderResult{OrderID: req.OrderID, Status: types.OrderStatusRejected}
	}

	price := snap.Ask
	if req.Side == types.SideSell {
		price = snap.Bid
	}
	// slippage against the taker
	slip := price * g.cfg.SlippagePct * g.rng.Float64()
	if req.Side == types.SideBuy {
		price += slip
	} else {
		price -= slip
	}

	qty := req.Quantity
	status := types.OrderStatusFilled
	if g.rng.Float64() > g.cfg.LiquidityRatio {
		qty = req.Quantity * (0.3 + 0.6*g.rng.Float64())
		status = types.OrderStatusPartial
	}

	return OrderResult{
		OrderID:    req.OrderID,
		Status:     status,
		FilledQty:  qty,
		AvgPrice:   price,
		Commission: price * qty * g.cfg.FeeRate,
	}
}

func (g *SimGateway) fillAtLocked(req OrderRequest, price, qty float64) OrderResult {
	return OrderResult{
		OrderID:    req.OrderID,
		Status:     types.OrderStatusFilled,
		FilledQty:  qty,
		AvgPrice:   price,
		Commission: price * qty * g.cfg.FeeRate,
	}
}

func (g *SimGateway) simulateLatency() {
	if g.cfg.MaxLatency <= 0 {
		return
	}
	span := g.cfg.MaxLatency - g.cfg.MinLatency
	d := g.cfg.MinLatency
	if span > 0 {
		g.mu.Lock()
		d += time.Duration(g.rng.Int63n(int64(span)))
		g.mu.Unlock()
	}
	time.Sleep(d)
}

// crossesMarket reports whether a limit order is immediately executable.
func crossesMarket(req OrderRequest, snap marketdata.Snapshot) bool {
	if req.Side == types.SideBuy {
		return req.LimitPrice >= snap.Ask
	}
	return req.LimitPrice <= snap.Bid
}

// limitDistancePct is how far, in percent, the market must move to reach the
// limit price. Zero or negative means the limit is already marketable.
func limitDistancePct(req OrderRequest, snap marketdata.Snapshot) float64 {
	if req.Side == types.SideBuy {
		return (snap.Ask - req.LimitPrice) / snap.Ask * 100
	}
	return (req.LimitPrice - snap.Bid) / snap.Bid * 100
}

// rejectProbability grows with distance; slices parked far from the market
// get kicked back so schedulers reprice them.
func rejectProbability(distPct float64) float64 {
	p := distPct / 100
	if p > 0.2 {
		p = 0.2
	}
	if p < 0.01 {
		p = 0.01
	}
	return p
}

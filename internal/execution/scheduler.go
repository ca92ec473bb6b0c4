package execution

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/types"
)

// ErrAlreadyStarted is returned when Start is called twice on one session.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Recorder receives every child order outcome for journaling. Implementations
// must be safe for concurrent use by multiple scheduler sessions.
type Recorder interface {
	RecordOrder(o *types.ExecutionOrder)
}

// Status is a point-in-time view of one execution session.
type Status struct {
	SessionID       string                 `json:"session_id"`
	Algorithm       string                 `json:"algorithm"`
	Symbol          string                 `json:"symbol"`
	Side            types.Side             `json:"side"`
	State           types.AlgoState        `json:"state"`
	Progress        float64                `json:"progress"` // percent of total volume executed
	ExecutedVolume  float64                `json:"executed_volume"`
	RemainingVolume float64                `json:"remaining_volume"`
	AvgFillPrice    float64                `json:"avg_fill_price"`
	Commission      float64                `json:"commission"`
	ActiveChildren  int                    `json:"active_children"`
	ChildOrders     int                    `json:"child_orders"`
	LastExecution   time.Time              `json:"last_execution,omitempty"`
	Diagnostics     map[string]interface{} `json:"diagnostics,omitempty"`
}

// Scheduler works one parent order into the market as a sequence of child
// orders. Stop is best-effort: in-flight orders are not preempted, still
// pending children are cancelled.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	Status() Status
	Done() <-chan struct{}
}

// Deps are the collaborators shared by all scheduling algorithms.
type Deps struct {
	Gateway  OrderGateway
	Source   marketdata.Source
	Clock    Clock
	RNG      *rand.Rand
	Recorder Recorder
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = RealClock
	}
	if d.RNG == nil {
		d.RNG = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

// session holds the bookkeeping common to VWAP, TWAP and Iceberg.
type session struct {
	mu sync.Mutex

	id        string
	algorithm string
	symbol    string
	side      types.Side
	signalID  string
	total     float64

	executed   float64
	notional   float64 // Σ price×qty of fills, for the average price
	commission float64
	orders     []*types.ExecutionOrder
	state      types.AlgoState
	diag       map[string]interface{}
	startedAt  time.Time
	lastExec   time.Time

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopMu  sync.Once

	deps   Deps
	logger zerolog.Logger
}

func newSession(algorithm, symbol string, side types.Side, signalID string, total float64, deps Deps) *session {
	deps.defaults()
	id := uuid.New().String()
	return &session{
		id:        id,
		algorithm: algorithm,
		symbol:    symbol,
		side:      side,
		signalID:  signalID,
		total:     total,
		state:     types.AlgoStopped,
		diag:      make(map[string]interface{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		deps:      deps,
		logger: log.With().
			Str("component", algorithm).
			Str("session_id", id).
			Str("symbol", symbol).
			Str("side", string(side)).
			Logger(),
	}
}

// begin flips the session into ACTIVE exactly once.
func (s *session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.state = types.AlgoActive
	s.startedAt = s.deps.Clock.Now()
	return nil
}

// stop requests termination; safe to call from any goroutine, repeatedly.
func (s *session) stop() {
	s.stopMu.Do(func() { close(s.stopCh) })
}

func (s *session) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// finish cancels still-pending children and marks the session stopped.
func (s *session) finish(ctx context.Context) {
	s.cancelPending(ctx)
	s.mu.Lock()
	s.state = types.AlgoStopped
	executed, total := s.executed, s.total
	s.mu.Unlock()
	close(s.doneCh)
	s.logger.Info().
		Float64("executed", executed).
		Float64("total", total).
		Msg("execution session finished")
}

func (s *session) remaining() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

func (s *session) remainingLocked() float64 {
	r := s.total - s.executed
	if r < 0 {
		return 0
	}
	return r
}

func (s *session) elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Clock.Now().Sub(s.startedAt)
}

// placeChild creates, dispatches and records one child order, folding the
// gateway result into session totals.
func (s *session) placeChild(ctx context.Context, qty float64, orderType types.OrderType, limitPrice float64) *types.ExecutionOrder {
	order := newChildOrder(s.id, s.signalID, s.symbol, s.side, qty, orderType, limitPrice)

	res, err := s.deps.Gateway.PlaceOrder(ctx, OrderRequest{
		OrderID:    order.OrderID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		OrderType:  order.OrderType,
		LimitPrice: order.LimitPrice,
	})
	if err != nil {
		// Treated as recoverable: the next tick recomputes a fresh slice.
		s.logger.Warn().Err(err).Str("order_id", order.OrderID).Msg("child order placement failed")
		_ = Transition(order, types.OrderStatusRejected)
		s.track(order)
		return order
	}

	s.applyResult(order, res)
	s.track(order)
	return order
}

// applyResult folds a gateway result into the child order and session totals.
func (s *session) applyResult(order *types.ExecutionOrder, res OrderResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevFilled := order.FilledQty
	switch res.Status {
	case types.OrderStatusFilled, types.OrderStatusPartial:
		delta := res.FilledQty - prevFilled
		if delta > 0 {
			if err := ApplyFill(order, delta, res.AvgPrice, res.Commission); err != nil {
				s.logger.Warn().Err(err).Str("order_id", order.OrderID).Msg("fill rejected by state machine")
				return
			}
			s.executed += delta
			s.notional += res.AvgPrice * delta
			s.commission += res.Commission
			s.lastExec = s.deps.Clock.Now()
		}
	case types.OrderStatusRejected, types.OrderStatusCancelled:
		if !order.Status.Terminal() {
			_ = Transition(order, res.Status)
		}
	}
}

func (s *session) track(order *types.ExecutionOrder) {
	s.mu.Lock()
	s.orders = append(s.orders, order)
	s.mu.Unlock()
	s.record(order)
}

// record hands a snapshot of the order to the recorder, so journaling never
// races with later status changes.
func (s *session) record(order *types.ExecutionOrder) {
	if s.deps.Recorder == nil {
		return
	}
	s.mu.Lock()
	snapshot := *order
	s.mu.Unlock()
	s.deps.Recorder.RecordOrder(&snapshot)
}

// pendingOrders returns children still live at the broker.
func (s *session) pendingOrders() []*types.ExecutionOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ExecutionOrder
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// cancelPending issues best-effort cancels for every live child.
func (s *session) cancelPending(ctx context.Context) {
	for _, o := range s.pendingOrders() {
		if err := s.deps.Gateway.CancelOrder(ctx, o.OrderID); err != nil {
			s.logger.Warn().Err(err).Str("order_id", o.OrderID).Msg("cancel failed")
			continue
		}
		s.mu.Lock()
		if !o.Status.Terminal() {
			_ = Transition(o, types.OrderStatusCancelled)
		}
		s.mu.Unlock()
		s.record(o)
	}
}

// setDiag replaces the algorithm-specific diagnostics blob.
func (s *session) setDiag(d map[string]interface{}) {
	s.mu.Lock()
	s.diag = d
	s.mu.Unlock()
}

func (s *session) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress := 0.0
	if s.total > 0 {
		progress = s.executed / s.total * 100
		if progress > 100 {
			progress = 100
		}
	}
	avg := 0.0
	if s.executed > 0 {
		avg = s.notional / s.executed
	}
	active := 0
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			active++
		}
	}
	diag := make(map[string]interface{}, len(s.diag))
	for k, v := range s.diag {
		diag[k] = v
	}
	return Status{
		SessionID:       s.id,
		Algorithm:       s.algorithm,
		Symbol:          s.symbol,
		Side:            s.side,
		State:           s.state,
		Progress:        progress,
		ExecutedVolume:  s.executed,
		RemainingVolume: s.remainingLocked(),
		AvgFillPrice:    avg,
		Commission:      s.commission,
		ActiveChildren:  active,
		ChildOrders:     len(s.orders),
		LastExecution:   s.lastExec,
		Diagnostics:     diag,
	}
}

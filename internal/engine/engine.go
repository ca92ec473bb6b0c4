package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantex/algo-engine/internal/capital"
	"github.com/quantex/algo-engine/internal/execution"
	"github.com/quantex/algo-engine/internal/journal"
	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/risk"
	"github.com/quantex/algo-engine/internal/strategy"
	"github.com/quantex/algo-engine/internal/types"
)

var ErrAlreadyRunning = errors.New("engine already running")

// Config tunes the orchestration loop.
type Config struct {
	PollInterval time.Duration
	HistoryBars  int
	// UseSyntheticFallback substitutes the fallback source for a whole cycle
	// when the primary is unavailable. Real and synthetic data are never mixed
	// within one decision.
	UseSyntheticFallback bool
}

// DefaultConfig polls once per second over 120 bars of history.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		HistoryBars:  120,
	}
}

// Deps are the engine's collaborators, all constructed by the caller.
// There are no package-level singletons; lifecycle is explicit.
type Deps struct {
	Source   marketdata.Source
	Fallback marketdata.Source // optional, tagged-synthetic substitute
	Gateway  execution.OrderGateway
	Capital  *capital.Manager
	Gate     *risk.Gate
	Journal  *journal.Database
	Clock    execution.Clock
	RNG      *rand.Rand
}

// openPosition couples a live position to the capital committed to it.
type openPosition struct {
	pos        types.Position
	strategyID string
	signalID   string
	allocated  float64
}

// Engine wires market data through the strategies, the risk gate and the
// capital manager into execution schedulers, and owns their lifecycle.
type Engine struct {
	mu sync.Mutex

	cfg        Config
	deps       Deps
	strategies []strategy.Strategy
	statuses   map[string]*types.AlgoStatus
	sessions   map[string]execution.Scheduler
	positions  map[string]*openPosition // keyed strategyID:symbol
	realized   float64

	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	logger  zerolog.Logger
}

// New constructs an engine. The capital manager must already be initialized.
func New(cfg Config, deps Deps, strategies []strategy.Strategy) (*Engine, error) {
	if deps.Source == nil || deps.Gateway == nil || deps.Capital == nil || deps.Gate == nil {
		return nil, errors.New("engine: source, gateway, capital and gate are required")
	}
	if !deps.Capital.Initialized() {
		return nil, errors.New("engine: capital manager not initialized")
	}
	if deps.Clock == nil {
		deps.Clock = execution.RealClock
	}
	if deps.RNG == nil {
		deps.RNG = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 120
	}

	statuses := make(map[string]*types.AlgoStatus, len(strategies))
	for _, s := range strategies {
		statuses[s.Name()] = &types.AlgoStatus{
			Name:  s.Name(),
			State: types.AlgoActive,
		}
	}

	return &Engine{
		cfg:        cfg,
		deps:       deps,
		strategies: strategies,
		statuses:   statuses,
		sessions:   make(map[string]execution.Scheduler),
		positions:  make(map[string]*openPosition),
		logger:     log.With().Str("component", "engine").Logger(),
	}, nil
}

// Start launches the poll loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info().
		Dur("poll_interval", e.cfg.PollInterval).
		Int("strategies", len(e.strategies)).
		Msg("engine started")

	go e.run(ctx)
	return nil
}

// Shutdown stops the poll loop and every active scheduler session.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.doneCh
	sessions := make([]execution.Scheduler, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	cancel()
	for _, s := range sessions {
		s.Stop()
	}
	<-done
	e.logger.Info().Msg("engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.deps.Clock.After(e.cfg.PollInterval):
			e.cycle(ctx)
		}
	}
}

// cycle is one orchestration step: mark positions to market, then give every
// active strategy a chance to emit one signal.
func (e *Engine) cycle(ctx context.Context) {
	source, ok := e.pickSource()
	if !ok {
		e.logger.Debug().Msg("market data unavailable, skipping cycle")
		return
	}

	e.markToMarket(ctx, source)

	for _, strat := range e.strategies {
		alloc, err := e.deps.Capital.Allocation(strat.Name())
		if err != nil || !alloc.Active {
			continue
		}
		e.runStrategy(ctx, source, strat)
	}
}

// pickSource returns the primary source, or the fallback when configured.
// The chosen source serves the entire cycle so real and synthetic data never
// mix within one decision.
func (e *Engine) pickSource() (marketdata.Source, bool) {
	probe := e.strategies
	if len(probe) == 0 {
		return e.deps.Source, true
	}
	symbol := probe[0].Symbols()[0]
	if _, err := e.deps.Source.GetSnapshot(symbol); err == nil {
		return e.deps.Source, true
	}
	if e.cfg.UseSyntheticFallback && e.deps.Fallback != nil {
		e.logger.Warn().Msg("primary market data unavailable, using synthetic fallback for this cycle")
		return e.deps.Fallback, true
	}
	return nil, false
}

func (e *Engine) runStrategy(ctx context.Context, source marketdata.Source, strat strategy.Strategy) {
	symbols := strat.Symbols()
	primary := symbols[0]

	snap, err := source.GetSnapshot(primary)
	if err != nil {
		return // absence of data means skip this cycle
	}
	history, err := source.GetHistory(primary, e.cfg.HistoryBars)
	if err != nil {
		return
	}
	in := strategy.Input{Symbol: primary, Snapshot: snap, History: history}
	if len(symbols) > 1 {
		pair, err := source.GetHistory(symbols[1], e.cfg.HistoryBars)
		if err != nil {
			return
		}
		in.PairHistory = pair
	}

	sig := strat.Generate(in)
	if sig == nil {
		return
	}
	e.admit(ctx, strat.Name(), sig)
}

// admit runs a signal through the risk gate and the capital manager, resizing
// to the suggested amount when the requested notional is too large, and hands
// the admitted order to a scheduler.
func (e *Engine) admit(ctx context.Context, strategyID string, sig *types.TradingSignal) {
	portfolio := e.Portfolio(ctx)
	decision := e.deps.Gate.Evaluate(sig, &portfolio)
	e.journalSignal(sig, decision)
	if !decision.Approved {
		return
	}

	amount := sig.Notional()
	check := e.deps.Capital.CanOpenPosition(strategyID, amount)
	if !check.CanOpen {
		if check.SuggestedAmount <= 0 {
			e.logger.Info().
				Str("strategy", strategyID).
				Str("signal_id", sig.SignalID).
				Str("reason", check.Reason).
				Msg("signal dropped by capital manager")
			return
		}
		e.logger.Info().
			Str("strategy", strategyID).
			Float64("requested", amount).
			Float64("suggested", check.SuggestedAmount).
			Msg("resizing signal to suggested amount")
		amount = check.SuggestedAmount
	}
	if err := e.deps.Capital.Allocate(strategyID, amount); err != nil {
		e.logger.Info().Err(err).Str("strategy", strategyID).Msg("allocation failed, signal dropped")
		return
	}

	volume := sig.Volume
	if sig.TargetPrice > 0 {
		volume = amount / sig.TargetPrice
	}

	sched, err := e.newScheduler(sig, volume)
	if err != nil {
		e.logger.Error().Err(err).Msg("scheduler construction failed")
		_ = e.deps.Capital.Release(strategyID, amount, 0)
		return
	}
	if err := sched.Start(ctx); err != nil {
		_ = e.deps.Capital.Release(strategyID, amount, 0)
		return
	}

	st := sched.Status()
	e.mu.Lock()
	e.sessions[st.SessionID] = sched
	e.mu.Unlock()

	go e.watchSession(sched, sig, strategyID, amount)
}

// newScheduler picks the slicing algorithm by signal pricing: limit-priced
// signals hide behind an iceberg, market-priced ones pace with VWAP.
func (e *Engine) newScheduler(sig *types.TradingSignal, volume float64) (execution.Scheduler, error) {
	deps := execution.Deps{
		Gateway:  e.deps.Gateway,
		Source:   e.deps.Source,
		Clock:    e.deps.Clock,
		RNG:      e.deps.RNG,
		Recorder: e.recorder(),
	}
	if sig.OrderType == types.OrderTypeLimit {
		return execution.NewIceberg(sig.Symbol, sig.Action, sig.SignalID,
			execution.DefaultIcebergConfig(volume), deps)
	}
	return execution.NewVWAP(sig.Symbol, sig.Action, sig.SignalID,
		execution.DefaultVWAPConfig(volume), deps)
}

// watchSession waits for a scheduler to finish, opens the resulting position
// and journals the session summary. Unused capital goes straight back.
func (e *Engine) watchSession(sched execution.Scheduler, sig *types.TradingSignal, strategyID string, allocated float64) {
	<-sched.Done()
	st := sched.Status()

	e.mu.Lock()
	delete(e.sessions, st.SessionID)
	e.mu.Unlock()

	e.journalExecution(st, sig.SignalID)

	if st.ExecutedVolume <= 0 {
		_ = e.deps.Capital.Release(strategyID, allocated, 0)
		return
	}

	filledNotional := st.ExecutedVolume * st.AvgFillPrice
	if unused := allocated - filledNotional; unused > 0 {
		_ = e.deps.Capital.Release(strategyID, unused, 0)
		allocated = filledNotional
	}

	direction := types.DirectionLong
	qty := st.ExecutedVolume
	if sig.Action == types.SideSell {
		direction = types.DirectionShort
		qty = -qty
	}

	e.mu.Lock()
	key := strategyID + ":" + sig.Symbol
	e.positions[key] = &openPosition{
		pos: types.Position{
			Symbol:       sig.Symbol,
			Direction:    direction,
			Quantity:     qty,
			AvgPrice:     st.AvgFillPrice,
			CurrentPrice: st.AvgFillPrice,
			StopLoss:     sig.StopLoss,
			TakeProfit:   sig.TakeProfit,
			Strategy:     strategyID,
		},
		strategyID: strategyID,
		signalID:   sig.SignalID,
		allocated:  allocated,
	}
	status := e.statuses[strategyID]
	if status != nil {
		status.TradeCount++
		status.LastExecution = time.Now()
	}
	e.mu.Unlock()

	e.logger.Info().
		Str("strategy", strategyID).
		Str("symbol", sig.Symbol).
		Float64("volume", st.ExecutedVolume).
		Float64("avg_price", st.AvgFillPrice).
		Msg("position opened")
}

// markToMarket refreshes open positions and closes any whose stop-loss or
// take-profit has been breached.
func (e *Engine) markToMarket(ctx context.Context, source marketdata.Source) {
	e.mu.Lock()
	entries := make([]*openPosition, 0, len(e.positions))
	for _, p := range e.positions {
		entries = append(entries, p)
	}
	e.mu.Unlock()

	for _, entry := range entries {
		snap, err := source.GetSnapshot(entry.pos.Symbol)
		if err != nil {
			continue
		}
		mid := snap.Mid()

		e.mu.Lock()
		entry.pos.CurrentPrice = mid
		entry.pos.UnrealizedPnL = (mid - entry.pos.AvgPrice) * entry.pos.Quantity
		breached := protectiveBreached(&entry.pos, mid)
		e.mu.Unlock()

		if breached {
			e.closePosition(ctx, entry, snap)
		}
	}

	portfolio := e.Portfolio(ctx)
	e.deps.Capital.RecordEquity(portfolio.Equity)
}

// closePosition unwinds one position with a single market order and releases
// its capital together with the realized result.
func (e *Engine) closePosition(ctx context.Context, entry *openPosition, snap marketdata.Snapshot) {
	side := types.SideSell
	if entry.pos.Direction == types.DirectionShort {
		side = types.SideBuy
	}
	qty := entry.pos.Quantity
	if qty < 0 {
		qty = -qty
	}

	res, err := e.deps.Gateway.PlaceOrder(ctx, execution.OrderRequest{
		OrderID:   fmt.Sprintf("close-%s-%d", entry.pos.Symbol, time.Now().UnixNano()),
		Symbol:    entry.pos.Symbol,
		Side:      side,
		Quantity:  qty,
		OrderType: types.OrderTypeMarket,
	})
	if err != nil || res.FilledQty <= 0 {
		e.logger.Warn().Err(err).Str("symbol", entry.pos.Symbol).Msg("position close failed, will retry next cycle")
		return
	}

	realized := (res.AvgPrice-entry.pos.AvgPrice)*entry.pos.Quantity - res.Commission

	e.mu.Lock()
	delete(e.positions, entry.strategyID+":"+entry.pos.Symbol)
	e.realized += realized
	status := e.statuses[entry.strategyID]
	if status != nil {
		status.PnL += realized
		wins := status.SuccessRate * float64(status.TradeCount-1)
		if realized > 0 {
			wins++
		}
		if status.TradeCount > 0 {
			status.SuccessRate = wins / float64(status.TradeCount)
		}
	}
	e.mu.Unlock()

	_ = e.deps.Capital.Release(entry.strategyID, entry.allocated, realized)

	e.logger.Info().
		Str("strategy", entry.strategyID).
		Str("symbol", entry.pos.Symbol).
		Float64("realized_pnl", realized).
		Msg("position closed")
}

func protectiveBreached(p *types.Position, price float64) bool {
	switch p.Direction {
	case types.DirectionLong:
		return (p.StopLoss > 0 && price <= p.StopLoss) ||
			(p.TakeProfit > 0 && price >= p.TakeProfit)
	case types.DirectionShort:
		return (p.StopLoss > 0 && price >= p.StopLoss) ||
			(p.TakeProfit > 0 && price <= p.TakeProfit)
	}
	return false
}

// ManualExecution is an operator-sized parent order, scheduled without going
// through a strategy.
type ManualExecution struct {
	Algorithm string        `json:"algorithm" binding:"required"` // vwap, twap or iceberg
	Symbol    string        `json:"symbol" binding:"required"`
	Side      types.Side    `json:"side" binding:"required"`
	Volume    float64       `json:"volume" binding:"required"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Execute starts a scheduler session for a manual parent order.
func (e *Engine) Execute(ctx context.Context, req ManualExecution) (execution.Status, error) {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return execution.Status{}, fmt.Errorf("invalid side %q", req.Side)
	}

	deps := execution.Deps{
		Gateway:  e.deps.Gateway,
		Source:   e.deps.Source,
		Clock:    e.deps.Clock,
		RNG:      e.deps.RNG,
		Recorder: e.recorder(),
	}
	signalID := "manual-" + fmt.Sprintf("%d", time.Now().UnixNano())

	var (
		sched execution.Scheduler
		err   error
	)
	switch req.Algorithm {
	case "vwap":
		cfg := execution.DefaultVWAPConfig(req.Volume)
		if req.Duration > 0 {
			cfg.Duration = req.Duration
			if cfg.TickInterval > cfg.Duration/10 {
				cfg.TickInterval = cfg.Duration / 10
			}
		}
		sched, err = execution.NewVWAP(req.Symbol, req.Side, signalID, cfg, deps)
	case "twap":
		cfg := execution.DefaultTWAPConfig(req.Volume)
		if req.Duration > 0 {
			cfg.Duration = req.Duration
			if cfg.Interval > cfg.Duration/10 {
				cfg.Interval = cfg.Duration / 10
			}
		}
		sched, err = execution.NewTWAP(req.Symbol, req.Side, signalID, cfg, deps)
	case "iceberg":
		cfg := execution.DefaultIcebergConfig(req.Volume)
		if req.Duration > 0 {
			cfg.MaxDuration = req.Duration
			if cfg.PollInterval > cfg.MaxDuration/10 {
				cfg.PollInterval = cfg.MaxDuration / 10
			}
		}
		sched, err = execution.NewIceberg(req.Symbol, req.Side, signalID, cfg, deps)
	default:
		return execution.Status{}, fmt.Errorf("unknown algorithm %q", req.Algorithm)
	}
	if err != nil {
		return execution.Status{}, err
	}
	if err := sched.Start(ctx); err != nil {
		return execution.Status{}, err
	}

	st := sched.Status()
	e.mu.Lock()
	e.sessions[st.SessionID] = sched
	e.mu.Unlock()

	go func() {
		<-sched.Done()
		final := sched.Status()
		e.mu.Lock()
		delete(e.sessions, final.SessionID)
		e.mu.Unlock()
		e.journalExecution(final, signalID)
	}()

	return st, nil
}

// StopSession stops one active scheduler session.
func (e *Engine) StopSession(sessionID string) error {
	e.mu.Lock()
	sched, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active session %s", sessionID)
	}
	sched.Stop()
	return nil
}

// Portfolio assembles the aggregate account view from the broker account and
// the open positions.
func (e *Engine) Portfolio(ctx context.Context) types.Portfolio {
	account, err := e.deps.Gateway.AccountInfo(ctx)
	if err != nil {
		account = execution.Account{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	portfolio := types.Portfolio{
		Balance:     account.Balance,
		RealizedPnL: e.realized,
	}
	for _, entry := range e.positions {
		portfolio.Positions = append(portfolio.Positions, entry.pos)
		portfolio.UnrealizedPnL += entry.pos.UnrealizedPnL
		portfolio.Margin += entry.pos.MarketValue()
	}
	portfolio.Equity = account.Balance + e.realized + portfolio.UnrealizedPnL
	portfolio.FreeMargin = portfolio.Equity - portfolio.Margin
	return portfolio
}

// PauseStrategy frees the strategy's capital and stops admitting its signals.
func (e *Engine) PauseStrategy(strategyID string) error {
	if err := e.deps.Capital.Pause(strategyID); err != nil {
		return err
	}
	e.setState(strategyID, types.AlgoPaused)
	return nil
}

// ResumeStrategy reactivates a paused strategy.
func (e *Engine) ResumeStrategy(strategyID string) error {
	if err := e.deps.Capital.Resume(strategyID); err != nil {
		return err
	}
	e.setState(strategyID, types.AlgoActive)
	return nil
}

// EmergencyStop pauses every strategy, stops every scheduler session and
// frees all capital. Recoverable per strategy via ResumeStrategy.
func (e *Engine) EmergencyStop() {
	e.deps.Capital.EmergencyStop()

	e.mu.Lock()
	sessions := make([]execution.Scheduler, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	for _, st := range e.statuses {
		st.State = types.AlgoPaused
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	e.logger.Warn().Int("stopped_sessions", len(sessions)).Msg("emergency stop executed")
}

func (e *Engine) setState(strategyID string, state types.AlgoState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.statuses[strategyID]; ok {
		st.State = state
	}
}

// AlgoStatuses reports the runtime record of every strategy.
func (e *Engine) AlgoStatuses() []types.AlgoStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.AlgoStatus, 0, len(e.statuses))
	for _, st := range e.statuses {
		out = append(out, *st)
	}
	return out
}

// Sessions reports the status of every active execution session.
func (e *Engine) Sessions() []execution.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]execution.Status, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.Status())
	}
	return out
}

// Running reports whether the poll loop is live.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) recorder() execution.Recorder {
	if e.deps.Journal == nil {
		return nil
	}
	return e.deps.Journal
}

func (e *Engine) journalSignal(sig *types.TradingSignal, decision risk.Decision) {
	if e.deps.Journal == nil {
		return
	}
	if err := e.deps.Journal.RecordSignal(sig, decision); err != nil {
		e.logger.Warn().Err(err).Str("signal_id", sig.SignalID).Msg("journaling signal failed")
	}
}

func (e *Engine) journalExecution(st execution.Status, signalID string) {
	if e.deps.Journal == nil {
		return
	}
	rec := &journal.ExecutionRecord{
		SessionID:      st.SessionID,
		SignalID:       signalID,
		Algorithm:      st.Algorithm,
		Symbol:         st.Symbol,
		Side:           string(st.Side),
		TotalVolume:    st.ExecutedVolume + st.RemainingVolume,
		ExecutedVolume: st.ExecutedVolume,
		AvgFillPrice:   st.AvgFillPrice,
		Commission:     st.Commission,
		Status:         string(st.State),
	}
	if err := e.deps.Journal.UpsertExecution(rec); err != nil {
		e.logger.Warn().Err(err).Str("session_id", st.SessionID).Msg("journaling execution failed")
	}
}

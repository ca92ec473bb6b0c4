package execution

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/types"
)

// stubSource serves one fixed snapshot; enough for scheduler loops.
type stubSource struct {
	mu   sync.Mutex
	snap marketdata.Snapshot
	down bool
	err  error
}

func newStubSource(mid float64) *stubSource {
	return &stubSource{snap: marketdata.Snapshot{
		Symbol: "EURUSD",
		Bid:    mid - 0.01,
		Ask:    mid + 0.01,
		Volume: 10000,
	}}
}

func (s *stubSource) GetSnapshot(string) (marketdata.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return marketdata.Snapshot{}, s.err
	}
	if s.down {
		return marketdata.Snapshot{}, marketdata.ErrUnavailable
	}
	return s.snap, nil
}

func (s *stubSource) GetHistory(string, int) ([]marketdata.Candle, error) {
	return nil, nil
}

// fakeGateway fills market orders fully at a fixed price. Limit orders rest
// and resolve according to pollResult on each status poll.
type fakeGateway struct {
	mu         sync.Mutex
	price      float64
	placed     []OrderRequest
	resting    map[string]OrderRequest
	pollResult types.OrderStatus // outcome of each OrderStatus poll for resting orders
	cancelled  []string
}

func newFakeGateway(price float64) *fakeGateway {
	return &fakeGateway{
		price:      price,
		resting:    make(map[string]OrderRequest),
		pollResult: types.OrderStatusPending,
	}
}

func (f *fakeGateway) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)

	if req.OrderType == types.OrderTypeLimit {
		f.resting[req.OrderID] = req
		return OrderResult{OrderID: req.OrderID, Status: types.OrderStatusPending}, nil
	}
	return OrderResult{
		OrderID:   req.OrderID,
		Status:    types.OrderStatusFilled,
		FilledQty: req.Quantity,
		AvgPrice:  f.price,
	}, nil
}

func (f *fakeGateway) OrderStatus(_ context.Context, orderID string) (OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.resting[orderID]
	if !ok {
		return OrderResult{OrderID: orderID, Status: types.OrderStatusFilled}, nil
	}
	res := OrderResult{OrderID: orderID, Status: f.pollResult}
	if f.pollResult == types.OrderStatusFilled {
		res.FilledQty = req.Quantity
		res.AvgPrice = f.price
		delete(f.resting, orderID)
	}
	return res, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resting, orderID)
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeGateway) AccountInfo(context.Context) (Account, error) {
	return Account{Balance: 100000, Equity: 100000}, nil
}

func (f *fakeGateway) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

// errorGateway refuses every placement.
type errorGateway struct {
	mu     sync.Mutex
	placed int
}

func (g *errorGateway) PlaceOrder(context.Context, OrderRequest) (OrderResult, error) {
	g.mu.Lock()
	g.placed++
	g.mu.Unlock()
	return OrderResult{}, errors.New("broker unavailable")
}

func (g *errorGateway) OrderStatus(_ context.Context, orderID string) (OrderResult, error) {
	return OrderResult{OrderID: orderID, Status: types.OrderStatusPending}, nil
}

func (g *errorGateway) CancelOrder(context.Context, string) error { return nil }

func (g *errorGateway) AccountInfo(context.Context) (Account, error) {
	return Account{Balance: 100000, Equity: 100000}, nil
}

func (g *errorGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placed
}

func testDeps(gw OrderGateway, src marketdata.Source) Deps {
	return Deps{
		Gateway: gw,
		Source:  src,
		RNG:     rand.New(rand.NewSource(7)),
	}
}

func waitDone(t *testing.T, s Scheduler) Status {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish in time")
	}
	return s.Status()
}

func TestVWAPTargetVolumeByNow(t *testing.T) {
	cfg := DefaultVWAPConfig(1000)
	v, err := NewVWAP("EURUSD", types.SideBuy, "sig", cfg, testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)

	assert.Equal(t, 0.0, v.TargetVolumeByNow(0))
	assert.InDelta(t, 500, v.TargetVolumeByNow(30*time.Minute), 1e-9)
	assert.InDelta(t, 1000, v.TargetVolumeByNow(time.Hour), 1e-9)
	assert.InDelta(t, 1000, v.TargetVolumeByNow(2*time.Hour), 1e-9, "target is capped at total volume")
}

func TestVWAPPacesVolumeOverDuration(t *testing.T) {
	gw := newFakeGateway(100)
	cfg := VWAPConfig{
		TotalVolume:     100,
		Duration:        200 * time.Millisecond,
		TickInterval:    10 * time.Millisecond,
		MinChildVolume:  1,
		MaxChildVolume:  100,
		MaxDeviationPct: 100, // never skip
		Aggression:      1,
	}
	v, err := NewVWAP("EURUSD", types.SideBuy, "sig", cfg, testDeps(gw, newStubSource(100)))
	require.NoError(t, err)
	require.NoError(t, v.Start(context.Background()))

	st := waitDone(t, v)
	assert.Equal(t, types.AlgoStopped, st.State)
	assert.Greater(t, st.ExecutedVolume, 0.0)
	assert.LessOrEqual(t, st.ExecutedVolume, 100.0)
	assert.InDelta(t, 100, st.AvgFillPrice, 1e-9)
	assert.Greater(t, st.ChildOrders, 1, "volume must be worked in slices")
}

func TestVWAPDeviationSignedAdverse(t *testing.T) {
	buy, err := NewVWAP("EURUSD", types.SideBuy, "sig", DefaultVWAPConfig(100), testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)
	buy.observe(marketdata.Snapshot{Bid: 99.99, Ask: 100.01, Volume: 1000})

	// ask above session vwap is adverse for a buyer
	assert.InDelta(t, 2.0, buy.deviationPct(marketdata.Snapshot{Bid: 101.98, Ask: 102}), 0.01)
	// ask below session vwap is favorable
	assert.Less(t, buy.deviationPct(marketdata.Snapshot{Bid: 97.98, Ask: 98}), 0.0)

	sell, err := NewVWAP("EURUSD", types.SideSell, "sig", DefaultVWAPConfig(100), testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)
	sell.observe(marketdata.Snapshot{Bid: 99.99, Ask: 100.01, Volume: 1000})

	// bid below session vwap is adverse for a seller
	assert.InDelta(t, 2.0, sell.deviationPct(marketdata.Snapshot{Bid: 98, Ask: 98.02}), 0.01)
}

func TestVWAPDoubleStartFails(t *testing.T) {
	v, err := NewVWAP("EURUSD", types.SideBuy, "sig", DefaultVWAPConfig(100), testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)
	require.NoError(t, v.Start(context.Background()))
	defer func() {
		v.Stop()
		waitDone(t, v)
	}()

	assert.ErrorIs(t, v.Start(context.Background()), ErrAlreadyStarted)
}

func TestVWAPSkipsTicksWhenDataUnavailable(t *testing.T) {
	gw := newFakeGateway(100)
	src := newStubSource(100)
	src.mu.Lock()
	src.down = true
	src.mu.Unlock()

	cfg := DefaultVWAPConfig(100)
	cfg.Duration = 100 * time.Millisecond
	cfg.TickInterval = 10 * time.Millisecond
	v, err := NewVWAP("EURUSD", types.SideBuy, "sig", cfg, testDeps(gw, src))
	require.NoError(t, err)
	require.NoError(t, v.Start(context.Background()))

	st := waitDone(t, v)
	assert.Equal(t, 0.0, st.ExecutedVolume)
	assert.Equal(t, 0, gw.placedCount(), "no orders while market data is down")
}

func TestVWAPSkipsTicksWhileDeviationExceedsLimit(t *testing.T) {
	gw := newFakeGateway(100)
	src := newStubSource(100)
	cfg := VWAPConfig{
		TotalVolume:     100,
		Duration:        time.Hour,
		TickInterval:    5 * time.Millisecond,
		MinChildVolume:  1,
		MaxChildVolume:  100,
		MaxDeviationPct: 1,
		Aggression:      1,
	}
	v, err := NewVWAP("EURUSD", types.SideBuy, "sig", cfg, testDeps(gw, src))
	require.NoError(t, err)

	// anchor the session vwap at 100, then run the market 5% away; the
	// zero-volume quotes keep the session vwap anchored
	v.observe(marketdata.Snapshot{Bid: 99.99, Ask: 100.01, Volume: 1000})
	src.mu.Lock()
	src.snap.Bid = 104.99
	src.snap.Ask = 105.01
	src.snap.Volume = 0
	src.mu.Unlock()

	require.NoError(t, v.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, gw.placedCount(), "no child orders while deviation exceeds the limit")

	v.Stop()
	st := waitDone(t, v)
	assert.Equal(t, 0.0, st.ExecutedVolume)
}

func TestTWAPSliceSizeBounds(t *testing.T) {
	cfg := TWAPConfig{
		TotalVolume:    1000,
		Duration:       10 * time.Minute,
		Interval:       time.Minute,
		TimingVariance: 0.2,
		SizeVariance:   0.3,
	}
	tw, err := NewTWAP("EURUSD", types.SideBuy, "sig", cfg, testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)

	// even slice is 100; perturbation stays within ±30%
	for i := 0; i < 200; i++ {
		size := tw.SliceSize(0, 1000)
		assert.GreaterOrEqual(t, size, 70.0)
		assert.LessOrEqual(t, size, 130.0)
	}

	// past the end everything left goes in one slice
	assert.Equal(t, 42.0, tw.SliceSize(11*time.Minute, 42))

	// a slice never exceeds the remaining volume
	assert.LessOrEqual(t, tw.SliceSize(9*time.Minute+30*time.Second, 5), 5.0)
}

func TestTWAPJitteredWaitStaysNearInterval(t *testing.T) {
	cfg := DefaultTWAPConfig(100)
	cfg.Interval = time.Minute
	cfg.TimingVariance = 0.2
	tw, err := NewTWAP("EURUSD", types.SideBuy, "sig", cfg, testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		wait := tw.nextWait()
		assert.GreaterOrEqual(t, wait, 48*time.Second)
		assert.LessOrEqual(t, wait, 72*time.Second)
	}
}

func TestTWAPExecutesEvenSlices(t *testing.T) {
	gw := newFakeGateway(100)
	cfg := TWAPConfig{
		TotalVolume:    50,
		Duration:       200 * time.Millisecond,
		Interval:       10 * time.Millisecond,
		TimingVariance: 0,
		SizeVariance:   0,
	}
	tw, err := NewTWAP("EURUSD", types.SideBuy, "sig", cfg, testDeps(gw, newStubSource(100)))
	require.NoError(t, err)
	require.NoError(t, tw.Start(context.Background()))

	st := waitDone(t, tw)
	assert.Equal(t, types.AlgoStopped, st.State)
	assert.Greater(t, st.ExecutedVolume, 0.0)
	assert.LessOrEqual(t, st.ExecutedVolume, 50.0)
	for _, req := range gw.placed {
		assert.Equal(t, types.OrderTypeMarket, req.OrderType, "twap slices are market orders")
	}
}

func TestTWAPSkipsSlicesOnSnapshotError(t *testing.T) {
	gw := newFakeGateway(100)
	src := newStubSource(100)
	src.mu.Lock()
	src.err = errors.New("feed handler crashed")
	src.mu.Unlock()

	cfg := TWAPConfig{
		TotalVolume:    50,
		Duration:       100 * time.Millisecond,
		Interval:       10 * time.Millisecond,
		TimingVariance: 0,
		SizeVariance:   0,
	}
	tw, err := NewTWAP("EURUSD", types.SideBuy, "sig", cfg, testDeps(gw, src))
	require.NoError(t, err)
	require.NoError(t, tw.Start(context.Background()))

	st := waitDone(t, tw)
	assert.Equal(t, 0.0, st.ExecutedVolume)
	assert.Equal(t, 0, gw.placedCount(), "no slices while snapshots are failing")
}

func TestIcebergSliceSizeRespectsSecrecy(t *testing.T) {
	cfg := DefaultIcebergConfig(1000) // display 50, secrecy 0.3
	ib, err := NewIceberg("EURUSD", types.SideBuy, "sig", cfg, testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		size := ib.SliceSize()
		assert.GreaterOrEqual(t, size, 50.0*0.7)
		assert.LessOrEqual(t, size, 50.0)
	}
}

func TestIcebergCapsActiveSlices(t *testing.T) {
	gw := newFakeGateway(100) // limit orders rest forever by default
	cfg := IcebergConfig{
		TotalVolume:     1000,
		DisplaySize:     50,
		MaxActiveSlices: 3,
		SecrecyFactor:   0.3,
		LimitOffsetPct:  0.05,
		ReplaceDelay:    10 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		MaxDuration:     time.Hour,
	}
	ib, err := NewIceberg("EURUSD", types.SideBuy, "sig", cfg, testDeps(gw, newStubSource(100)))
	require.NoError(t, err)
	require.NoError(t, ib.Start(context.Background()))

	time.Sleep(60 * time.Millisecond)
	st := ib.Status()
	assert.Equal(t, 3, st.ActiveChildren, "never more than MaxActiveSlices resting")
	assert.Equal(t, 3, gw.placedCount())

	ib.Stop()
	st = waitDone(t, ib)
	assert.Equal(t, 0, st.ActiveChildren, "pending slices cancelled on stop")
	assert.Equal(t, types.AlgoStopped, st.State)
}

func TestIcebergCompletesWhenSlicesFill(t *testing.T) {
	gw := newFakeGateway(100)
	gw.mu.Lock()
	gw.pollResult = types.OrderStatusFilled
	gw.mu.Unlock()

	cfg := IcebergConfig{
		TotalVolume:     100,
		DisplaySize:     40,
		MaxActiveSlices: 2,
		SecrecyFactor:   0, // deterministic slice size
		LimitOffsetPct:  0.05,
		ReplaceDelay:    time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		MaxDuration:     5 * time.Second,
	}
	ib, err := NewIceberg("EURUSD", types.SideBuy, "sig", cfg, testDeps(gw, newStubSource(100)))
	require.NoError(t, err)
	require.NoError(t, ib.Start(context.Background()))

	st := waitDone(t, ib)
	assert.InDelta(t, 100, st.ExecutedVolume, 1e-9)
	assert.InDelta(t, 100, st.Progress, 1e-9)
	for _, req := range gw.placed {
		assert.Equal(t, types.OrderTypeLimit, req.OrderType, "iceberg slices are limit orders")
		assert.LessOrEqual(t, req.Quantity, 40.0)
	}
}

func TestIcebergBacksOffWhenPlacementFails(t *testing.T) {
	gw := &errorGateway{}
	cfg := IcebergConfig{
		TotalVolume:     1000,
		DisplaySize:     50,
		MaxActiveSlices: 3,
		SecrecyFactor:   0,
		LimitOffsetPct:  0.05,
		ReplaceDelay:    time.Hour, // one attempt per rejection window
		PollInterval:    5 * time.Millisecond,
		MaxDuration:     time.Hour,
	}
	ib, err := NewIceberg("EURUSD", types.SideBuy, "sig", cfg, testDeps(gw, newStubSource(100)))
	require.NoError(t, err)
	require.NoError(t, ib.Start(context.Background()))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, gw.placedCount(), "failed placement waits out ReplaceDelay before retrying")

	ib.Stop()
	st := waitDone(t, ib)
	assert.Equal(t, types.AlgoStopped, st.State)
	assert.Equal(t, 0.0, st.ExecutedVolume)
}

func TestIcebergLimitPriceInsideTouch(t *testing.T) {
	ib, err := NewIceberg("EURUSD", types.SideBuy, "sig", DefaultIcebergConfig(100), testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)
	snap := marketdata.Snapshot{Bid: 100, Ask: 100.02}
	assert.Less(t, ib.limitPrice(snap), snap.Bid)

	sell, err := NewIceberg("EURUSD", types.SideSell, "sig", DefaultIcebergConfig(100), testDeps(newFakeGateway(100), newStubSource(100)))
	require.NoError(t, err)
	assert.Greater(t, sell.limitPrice(snap), snap.Ask)
}

type captureRecorder struct {
	mu     sync.Mutex
	orders []types.ExecutionOrder
}

func (c *captureRecorder) RecordOrder(o *types.ExecutionOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, *o)
}

func TestSchedulerRecordsChildOrders(t *testing.T) {
	gw := newFakeGateway(100)
	rec := &captureRecorder{}
	deps := testDeps(gw, newStubSource(100))
	deps.Recorder = rec

	cfg := TWAPConfig{
		TotalVolume:    20,
		Duration:       100 * time.Millisecond,
		Interval:       10 * time.Millisecond,
		TimingVariance: 0,
		SizeVariance:   0,
	}
	tw, err := NewTWAP("EURUSD", types.SideBuy, "sig-rec", cfg, deps)
	require.NoError(t, err)
	require.NoError(t, tw.Start(context.Background()))
	waitDone(t, tw)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.orders)
	for _, o := range rec.orders {
		assert.Equal(t, "sig-rec", o.SignalID)
		assert.Equal(t, tw.Status().SessionID, o.SessionID)
	}
}

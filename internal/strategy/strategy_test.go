package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/types"
)

func candles(closes []float64) []marketdata.Candle {
	out := make([]marketdata.Candle, len(closes))
	ts := time.Now().Add(-time.Duration(len(closes)) * time.Minute)
	for i, c := range closes {
		out[i] = marketdata.Candle{
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func snapshotAt(symbol string, mid float64) marketdata.Snapshot {
	return marketdata.Snapshot{
		Symbol:    symbol,
		Bid:       mid - 0.005,
		Ask:       mid + 0.005,
		Volume:    1000,
		Timestamp: time.Now(),
	}
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func flat(level float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func TestMomentumFlatSeriesNoSignal(t *testing.T) {
	m := NewMomentum(DefaultMomentumConfig("EURUSD"))
	sig := m.Generate(Input{
		Symbol:   "EURUSD",
		Snapshot: snapshotAt("EURUSD", 100),
		History:  candles(flat(100, 30)),
	})
	assert.Nil(t, sig, "zero rate of change must not fire")
}

func TestMomentumRisingSeriesBuys(t *testing.T) {
	m := NewMomentum(DefaultMomentumConfig("EURUSD"))
	sig := m.Generate(Input{
		Symbol:   "EURUSD",
		Snapshot: snapshotAt("EURUSD", 129),
		History:  candles(ramp(100, 1, 30)),
	})
	require.NotNil(t, sig)
	assert.Equal(t, types.SideBuy, sig.Action)
	assert.Equal(t, types.OrderTypeMarket, sig.OrderType)
	assert.LessOrEqual(t, sig.Confidence, 95.0)
	assert.GreaterOrEqual(t, sig.Confidence, 60.0)
	assert.Greater(t, sig.StopLoss, 0.0)
	assert.Greater(t, sig.TakeProfit, sig.TargetPrice)
}

func TestMomentumFallingSeriesSells(t *testing.T) {
	m := NewMomentum(DefaultMomentumConfig("EURUSD"))
	sig := m.Generate(Input{
		Symbol:   "EURUSD",
		Snapshot: snapshotAt("EURUSD", 71),
		History:  candles(ramp(100, -1, 30)),
	})
	require.NotNil(t, sig)
	assert.Equal(t, types.SideSell, sig.Action)
}

func TestMomentumInsufficientHistory(t *testing.T) {
	m := NewMomentum(DefaultMomentumConfig("EURUSD"))
	sig := m.Generate(Input{
		Symbol:   "EURUSD",
		Snapshot: snapshotAt("EURUSD", 100),
		History:  candles(ramp(100, 1, 5)),
	})
	assert.Nil(t, sig)
}

func TestMomentumRSIBounds(t *testing.T) {
	cfg := DefaultMomentumConfig("EURUSD")
	cfg.Method = MomentumRSI
	cfg.Normalizer = 10
	m := NewMomentum(cfg)

	// Monotonic rise pins RSI at 100, momentum at +50.
	sig := m.Generate(Input{
		Symbol:   "EURUSD",
		Snapshot: snapshotAt("EURUSD", 129),
		History:  candles(ramp(100, 1, 30)),
	})
	require.NotNil(t, sig)
	assert.Equal(t, types.SideBuy, sig.Action)
	assert.LessOrEqual(t, sig.Confidence, 95.0)
}

// alternating ±1 around 100: mean 100, sample stddev sqrt(20/19)
func meanRevWindow() ([]float64, float64) {
	closes := make([]float64, 20)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 99
		} else {
			closes[i] = 101
		}
	}
	return closes, math.Sqrt(20.0 / 19.0)
}

func TestMeanReversionBuysThreeSigmaBelow(t *testing.T) {
	window, sigma := meanRevWindow()
	m := NewMeanReversion(DefaultMeanReversionConfig("GBPUSD"))

	mid := 100 - 3*sigma
	sig := m.Generate(Input{
		Symbol:   "GBPUSD",
		Snapshot: snapshotAt("GBPUSD", mid),
		History:  candles(window),
	})
	require.NotNil(t, sig)
	assert.Equal(t, types.SideBuy, sig.Action)
	assert.Equal(t, types.OrderTypeLimit, sig.OrderType)
	assert.GreaterOrEqual(t, sig.Confidence, 90.0)
	assert.InDelta(t, -3.0, sig.Params["z_score"].(float64), 1e-9)
}

func TestMeanReversionSellsAboveMean(t *testing.T) {
	window, sigma := meanRevWindow()
	m := NewMeanReversion(DefaultMeanReversionConfig("GBPUSD"))

	sig := m.Generate(Input{
		Symbol:   "GBPUSD",
		Snapshot: snapshotAt("GBPUSD", 100+2.5*sigma),
		History:  candles(window),
	})
	require.NotNil(t, sig)
	assert.Equal(t, types.SideSell, sig.Action)
}

func TestMeanReversionInsideBandNoSignal(t *testing.T) {
	window, sigma := meanRevWindow()
	m := NewMeanReversion(DefaultMeanReversionConfig("GBPUSD"))

	sig := m.Generate(Input{
		Symbol:   "GBPUSD",
		Snapshot: snapshotAt("GBPUSD", 100+0.5*sigma),
		History:  candles(window),
	})
	assert.Nil(t, sig)
}

func TestMeanReversionZeroStddevNoSignal(t *testing.T) {
	m := NewMeanReversion(DefaultMeanReversionConfig("GBPUSD"))
	sig := m.Generate(Input{
		Symbol:   "GBPUSD",
		Snapshot: snapshotAt("GBPUSD", 120),
		History:  candles(flat(100, 20)),
	})
	assert.Nil(t, sig)
}

func TestStatArbHedgeRatioOLS(t *testing.T) {
	s := NewStatArb(DefaultStatArbConfig("EURUSD", "GBPUSD"))
	p2 := ramp(100, 1, 60)
	p1 := ramp(50, 0.5, 60)
	assert.InDelta(t, 0.5, s.HedgeRatio(p1, p2), 1e-9)
}

func TestStatArbHedgeRatioFloorsNonPositiveSlope(t *testing.T) {
	s := NewStatArb(DefaultStatArbConfig("EURUSD", "GBPUSD"))
	p2 := ramp(100, 1, 60)
	p1 := ramp(80, -0.5, 60)
	assert.Equal(t, 1.0, s.HedgeRatio(p1, p2))
}

func TestStatArbCorrelationBreakdownNoSignal(t *testing.T) {
	s := NewStatArb(DefaultStatArbConfig("EURUSD", "GBPUSD"))

	pair := make([]float64, 60)
	for i := range pair {
		if i%2 == 0 {
			pair[i] = 100
		} else {
			pair[i] = 102
		}
	}
	sig := s.Generate(Input{
		Symbol:      "EURUSD",
		Snapshot:    snapshotAt("EURUSD", 109),
		History:     candles(ramp(50, 1, 60)),
		PairHistory: candles(pair),
	})
	assert.Nil(t, sig, "uncorrelated legs must invalidate the pair")
}

func TestStatArbRichSpreadSellsPrimary(t *testing.T) {
	s := NewStatArb(DefaultStatArbConfig("EURUSD", "GBPUSD"))

	p2 := ramp(100, 1, 60)
	p1 := ramp(50, 0.5, 60)
	p1[59] += 2 // primary leg breaks away from the pair

	sig := s.Generate(Input{
		Symbol:      "EURUSD",
		Snapshot:    snapshotAt("EURUSD", p1[59]),
		History:     candles(p1),
		PairHistory: candles(p2),
	})
	require.NotNil(t, sig)
	assert.Equal(t, types.SideSell, sig.Action)
	assert.Equal(t, "BUY", sig.Params["hedge_side"])
	assert.Equal(t, "GBPUSD", sig.Params["hedge_symbol"])
	assert.InDelta(t, 0.5, sig.Params["hedge_ratio"].(float64), 0.05)
	assert.Greater(t, sig.Params["z_score"].(float64), 2.0)
}

func TestStatArbInsufficientHistory(t *testing.T) {
	s := NewStatArb(DefaultStatArbConfig("EURUSD", "GBPUSD"))
	sig := s.Generate(Input{
		Symbol:      "EURUSD",
		Snapshot:    snapshotAt("EURUSD", 100),
		History:     candles(ramp(50, 0.5, 10)),
		PairHistory: candles(ramp(100, 1, 10)),
	})
	assert.Nil(t, sig)
}

func TestConfidenceNeverExceedsCap(t *testing.T) {
	assert.Equal(t, 95.0, capConfidence(240))
	assert.Equal(t, 0.0, capConfidence(-3))
	assert.Equal(t, 42.0, capConfidence(42))
}

func TestPearsonPerfectCorrelation(t *testing.T) {
	xs := ramp(1, 1, 50)
	ys := ramp(10, 2, 50)
	assert.InDelta(t, 1.0, pearson(xs, ys), 1e-9)

	neg := ramp(100, -2, 50)
	assert.InDelta(t, -1.0, pearson(xs, neg), 1e-9)
}

func TestProtectiveLevels(t *testing.T) {
	stop, profit := protectiveLevels(types.SideBuy, 100, 0.02, 0.04)
	assert.InDelta(t, 98, stop, 1e-9)
	assert.InDelta(t, 104, profit, 1e-9)

	stop, profit = protectiveLevels(types.SideSell, 100, 0.02, 0.04)
	assert.InDelta(t, 102, stop, 1e-9)
	assert.InDelta(t, 96, profit, 1e-9)
}

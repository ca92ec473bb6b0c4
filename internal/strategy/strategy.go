package strategy

import (
	"math"

	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/types"
)

// Input carries everything a strategy may read for one generation cycle.
// History slices are oldest first. PairHistory is populated only for pair
// strategies, for the symbol reported second by Symbols().
type Input struct {
	Symbol      string
	Snapshot    marketdata.Snapshot
	History     []marketdata.Candle
	PairHistory []marketdata.Candle
}

// Strategy generates at most one trading signal per cycle. Implementations
// must not share mutable state with each other; everything they read arrives
// through Input.
type Strategy interface {
	Name() string
	// Symbols lists the symbols the strategy needs data for, primary first.
	Symbols() []string
	// Generate returns nil when no signal fires this cycle.
	Generate(in Input) *types.TradingSignal
}

// maxConfidence is the cap applied to every generated signal.
const maxConfidence = 95.0

func capConfidence(c float64) float64 {
	if c > maxConfidence {
		return maxConfidence
	}
	if c < 0 {
		return 0
	}
	return c
}

func closes(candles []marketdata.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// ema computes the exponential moving average series with period n.
func ema(xs []float64, n int) []float64 {
	if len(xs) == 0 || n <= 0 {
		return nil
	}
	k := 2.0 / float64(n+1)
	out := make([]float64, len(xs))
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = xs[i]*k + out[i-1]*(1-k)
	}
	return out
}

// pearson computes the correlation coefficient of two equal-length series.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// olsSlope is the ordinary-least-squares slope of ys regressed on xs.
func olsSlope(ys, xs []float64) float64 {
	n := float64(len(xs))
	if n == 0 || len(xs) != len(ys) {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxy += xs[i] * ys[i]
		sxx += xs[i] * xs[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

// protectiveLevels derives stop-loss and take-profit prices around entry.
func protectiveLevels(side types.Side, entry, stopPct, profitPct float64) (stop, profit float64) {
	if stopPct <= 0 && profitPct <= 0 {
		return 0, 0
	}
	switch side {
	case types.SideBuy:
		if stopPct > 0 {
			stop = entry * (1 - stopPct)
		}
		if profitPct > 0 {
			profit = entry * (1 + profitPct)
		}
	case types.SideSell:
		if stopPct > 0 {
			stop = entry * (1 + stopPct)
		}
		if profitPct > 0 {
			profit = entry * (1 - profitPct)
		}
	}
	return stop, profit
}

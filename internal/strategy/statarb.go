package strategy

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantex/algo-engine/internal/types"
)

// StatArbConfig configures a pairs-trading strategy instance.
type StatArbConfig struct {
	Name           string // instance name, defaults to "stat_arb"
	Symbol         string // primary leg
	HedgeSymbol    string // secondary leg
	Lookback       int    // spread z-score window
	HedgeLookback  int    // OLS window for the hedge ratio
	EntryZ         float64
	ExitZ          float64
	MinCorrelation float64 // Pearson floor below which no signal is emitted
	Volume         float64
	Timeframe      string
}

// DefaultStatArbConfig returns a 60/30-bar pairs setup.
func DefaultStatArbConfig(symbol, hedge string) StatArbConfig {
	return StatArbConfig{
		Symbol:         symbol,
		HedgeSymbol:    hedge,
		Lookback:       30,
		HedgeLookback:  60,
		EntryZ:         2.0,
		ExitZ:          0.5,
		MinCorrelation: 0.7,
		Volume:         100,
		Timeframe:      "1m",
	}
}

// StatArb trades the z-score of the spread between two cointegrated legs.
// Only the primary leg's signal is emitted; the hedge leg is carried in params.
type StatArb struct {
	cfg StatArbConfig
}

func NewStatArb(cfg StatArbConfig) *StatArb {
	if cfg.EntryZ <= 0 {
		cfg.EntryZ = 2.0
	}
	return &StatArb{cfg: cfg}
}

func (s *StatArb) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return "stat_arb"
}
func (s *StatArb) Symbols() []string { return []string{s.cfg.Symbol, s.cfg.HedgeSymbol} }

// Generate fires when the spread z-score breaches the entry threshold and the
// legs are still sufficiently correlated. A correlation breakdown invalidates
// the pair and produces no signal.
func (s *StatArb) Generate(in Input) *types.TradingSignal {
	p1 := closes(in.History)
	p2 := closes(in.PairHistory)
	n := len(p1)
	if len(p2) < n {
		n = len(p2)
	}
	if n < s.cfg.Lookback || n < 2 {
		return nil
	}
	p1, p2 = p1[len(p1)-n:], p2[len(p2)-n:]

	corrWindow := s.cfg.Lookback
	corr := pearson(p1[n-corrWindow:], p2[n-corrWindow:])
	if corr < s.cfg.MinCorrelation {
		log.Debug().
			Str("strategy", s.Name()).
			Str("pair", s.cfg.Symbol+"/"+s.cfg.HedgeSymbol).
			Float64("correlation", corr).
			Float64("min_correlation", s.cfg.MinCorrelation).
			Msg("correlation below floor, pair invalidated")
		return nil
	}

	beta := s.HedgeRatio(p1, p2)

	spread := make([]float64, s.cfg.Lookback)
	for i := 0; i < s.cfg.Lookback; i++ {
		j := n - s.cfg.Lookback + i
		spread[i] = p1[j] - beta*p2[j]
	}
	mu := mean(spread)
	sigma := stddev(spread)
	if sigma == 0 {
		return nil
	}
	z := (spread[len(spread)-1] - mu) / sigma
	if math.Abs(z) < s.cfg.EntryZ {
		return nil
	}

	// Spread rich: sell the primary, buy the hedge. Spread cheap: the reverse.
	side := types.SideSell
	if z < 0 {
		side = types.SideBuy
	}

	sig := &types.TradingSignal{
		SignalID:    uuid.New().String(),
		Symbol:      s.cfg.Symbol,
		Action:      side,
		TargetPrice: in.Snapshot.Mid(),
		Volume:      s.cfg.Volume,
		OrderType:   types.OrderTypeLimit,
		Confidence:  capConfidence(60 * math.Abs(z) / s.cfg.EntryZ),
		Timeframe:   s.cfg.Timeframe,
		Strategy:    s.Name(),
		Params: map[string]interface{}{
			"z_score":      z,
			"hedge_ratio":  beta,
			"hedge_symbol": s.cfg.HedgeSymbol,
			"hedge_side":   string(side.Opposite()),
			"hedge_volume": s.cfg.Volume * beta,
			"correlation":  corr,
			"exit_z":       s.cfg.ExitZ,
		},
		CreatedAt: time.Now(),
	}

	log.Debug().
		Str("strategy", s.Name()).
		Str("pair", s.cfg.Symbol+"/"+s.cfg.HedgeSymbol).
		Float64("z_score", z).
		Float64("hedge_ratio", beta).
		Float64("correlation", corr).
		Msg("pairs signal generated")

	return sig
}

// HedgeRatio estimates beta via OLS of the primary on the hedge leg over the
// hedge lookback window, floored to 1 when the slope is non-positive.
func (s *StatArb) HedgeRatio(p1, p2 []float64) float64 {
	window := s.cfg.HedgeLookback
	if window <= 0 || window > len(p1) {
		window = len(p1)
	}
	beta := olsSlope(p1[len(p1)-window:], p2[len(p2)-window:])
	if beta <= 0 {
		return 1
	}
	return beta
}

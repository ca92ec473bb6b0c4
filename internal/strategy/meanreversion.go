package strategy

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantex/algo-engine/internal/types"
)

// MeanReversionConfig configures a mean-reversion strategy instance.
type MeanReversionConfig struct {
	Name           string // instance name, defaults to "mean_reversion"
	Symbol         string
	Lookback       int     // rolling window for mean and stddev
	EntryThreshold float64 // |z| at which a signal fires
	ExitThreshold  float64 // |z| at which the caller should close, carried in params
	Volume         float64
	Timeframe      string
	StopLossPct    float64
	TakeProfitPct  float64
}

// DefaultMeanReversionConfig returns a 20-bar, 2-sigma setup.
func DefaultMeanReversionConfig(symbol string) MeanReversionConfig {
	return MeanReversionConfig{
		Symbol:         symbol,
		Lookback:       20,
		EntryThreshold: 2.0,
		ExitThreshold:  0.5,
		Volume:         100,
		Timeframe:      "1m",
		StopLossPct:    0.02,
		TakeProfitPct:  0.03,
	}
}

// MeanReversion trades deviations of the current price from its rolling mean.
type MeanReversion struct {
	cfg MeanReversionConfig
}

func NewMeanReversion(cfg MeanReversionConfig) *MeanReversion {
	if cfg.EntryThreshold <= 0 {
		cfg.EntryThreshold = 2.0
	}
	return &MeanReversion{cfg: cfg}
}

func (m *MeanReversion) Name() string {
	if m.cfg.Name != "" {
		return m.cfg.Name
	}
	return "mean_reversion"
}
func (m *MeanReversion) Symbols() []string { return []string{m.cfg.Symbol} }

// Generate fires against the deviation: BUY below the mean, SELL above it.
func (m *MeanReversion) Generate(in Input) *types.TradingSignal {
	prices := closes(in.History)
	if len(prices) < m.cfg.Lookback {
		return nil
	}
	window := prices[len(prices)-m.cfg.Lookback:]
	mu := mean(window)
	sigma := stddev(window)
	if sigma == 0 {
		return nil
	}

	price := in.Snapshot.Mid()
	z := (price - mu) / sigma
	if math.Abs(z) < m.cfg.EntryThreshold {
		return nil
	}

	side := types.SideSell
	if z < 0 {
		side = types.SideBuy
	}
	stop, profit := protectiveLevels(side, price, m.cfg.StopLossPct, m.cfg.TakeProfitPct)

	sig := &types.TradingSignal{
		SignalID:    uuid.New().String(),
		Symbol:      in.Symbol,
		Action:      side,
		TargetPrice: price,
		Volume:      m.cfg.Volume,
		OrderType:   types.OrderTypeLimit,
		Confidence:  capConfidence(60 * math.Abs(z) / m.cfg.EntryThreshold),
		Timeframe:   m.cfg.Timeframe,
		Strategy:    m.Name(),
		StopLoss:    stop,
		TakeProfit:  profit,
		Params: map[string]interface{}{
			"z_score":        z,
			"mean":           mu,
			"stddev":         sigma,
			"exit_threshold": m.cfg.ExitThreshold,
		},
		CreatedAt: time.Now(),
	}

	log.Debug().
		Str("strategy", m.Name()).
		Str("symbol", in.Symbol).
		Float64("z_score", z).
		Float64("confidence", sig.Confidence).
		Msg("mean reversion signal generated")

	return sig
}

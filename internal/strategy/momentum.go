package strategy

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantex/algo-engine/internal/types"
)

// MomentumMethod selects the momentum measure.
type MomentumMethod string

const (
	MomentumROC  MomentumMethod = "ROC"
	MomentumRSI  MomentumMethod = "RSI"
	MomentumMACD MomentumMethod = "MACD"
)

// MomentumConfig configures a momentum strategy instance.
type MomentumConfig struct {
	Name          string // instance name, defaults to "momentum"
	Symbol        string
	Method        MomentumMethod
	Lookback      int     // window L
	FastPeriod    int     // MACD fast EMA
	SlowPeriod    int     // MACD slow EMA
	SignalPeriod  int     // MACD signal line EMA
	Threshold     float64 // minimum signal strength to fire
	Normalizer    float64 // momentum units per unit of signal strength
	Volume        float64
	Timeframe     string
	StopLossPct   float64
	TakeProfitPct float64
}

// DefaultMomentumConfig returns a ROC setup over 14 bars.
func DefaultMomentumConfig(symbol string) MomentumConfig {
	return MomentumConfig{
		Symbol:        symbol,
		Method:        MomentumROC,
		Lookback:      14,
		FastPeriod:    12,
		SlowPeriod:    26,
		SignalPeriod:  9,
		Threshold:     0.5,
		Normalizer:    5,
		Volume:        100,
		Timeframe:     "1m",
		StopLossPct:   0.02,
		TakeProfitPct: 0.04,
	}
}

// Momentum trades the direction of recent price movement.
type Momentum struct {
	cfg MomentumConfig
}

func NewMomentum(cfg MomentumConfig) *Momentum {
	if cfg.Normalizer <= 0 {
		cfg.Normalizer = 1
	}
	return &Momentum{cfg: cfg}
}

func (m *Momentum) Name() string {
	if m.cfg.Name != "" {
		return m.cfg.Name
	}
	return "momentum"
}
func (m *Momentum) Symbols() []string { return []string{m.cfg.Symbol} }

// Generate fires when the normalized momentum magnitude crosses the threshold.
func (m *Momentum) Generate(in Input) *types.TradingSignal {
	prices := closes(in.History)
	momentum, ok := m.measure(prices)
	if !ok {
		return nil
	}

	strength := math.Abs(momentum) / m.cfg.Normalizer
	if strength < m.cfg.Threshold {
		return nil
	}

	side := types.SideBuy
	if momentum < 0 {
		side = types.SideSell
	}
	entry := in.Snapshot.Mid()
	stop, profit := protectiveLevels(side, entry, m.cfg.StopLossPct, m.cfg.TakeProfitPct)

	sig := &types.TradingSignal{
		SignalID:    uuid.New().String(),
		Symbol:      in.Symbol,
		Action:      side,
		TargetPrice: entry,
		Volume:      m.cfg.Volume,
		OrderType:   types.OrderTypeMarket,
		Confidence:  capConfidence(strength * 100),
		Timeframe:   m.cfg.Timeframe,
		Strategy:    m.Name(),
		StopLoss:    stop,
		TakeProfit:  profit,
		Params: map[string]interface{}{
			"method":   string(m.cfg.Method),
			"momentum": momentum,
			"strength": strength,
		},
		CreatedAt: time.Now(),
	}

	log.Debug().
		Str("strategy", m.Name()).
		Str("symbol", in.Symbol).
		Str("method", string(m.cfg.Method)).
		Float64("momentum", momentum).
		Float64("confidence", sig.Confidence).
		Msg("momentum signal generated")

	return sig
}

// measure returns the configured momentum value, false when history is short.
func (m *Momentum) measure(prices []float64) (float64, bool) {
	switch m.cfg.Method {
	case MomentumRSI:
		return m.rsiMomentum(prices)
	case MomentumMACD:
		return m.macdMomentum(prices)
	default:
		return m.rocMomentum(prices)
	}
}

// rocMomentum is the rate of change over the lookback window, in percent.
func (m *Momentum) rocMomentum(prices []float64) (float64, bool) {
	l := m.cfg.Lookback
	if len(prices) <= l {
		return 0, false
	}
	cur := prices[len(prices)-1]
	past := prices[len(prices)-1-l]
	if past == 0 {
		return 0, false
	}
	return (cur - past) / past * 100, true
}

// rsiMomentum is Wilder's RSI shifted to be zero-centered (RSI - 50).
func (m *Momentum) rsiMomentum(prices []float64) (float64, bool) {
	l := m.cfg.Lookback
	if len(prices) <= l {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= l; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(l)
	avgLoss /= float64(l)

	// Wilder smoothing over the remainder of the window.
	for i := l + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(l-1) + gain) / float64(l)
		avgLoss = (avgLoss*float64(l-1) + loss) / float64(l)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 0, true
		}
		return 50, true // RSI 100
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	return rsi - 50, true
}

// macdMomentum is the MACD histogram: (fast EMA - slow EMA) minus its signal line.
func (m *Momentum) macdMomentum(prices []float64) (float64, bool) {
	if len(prices) < m.cfg.SlowPeriod+m.cfg.SignalPeriod {
		return 0, false
	}
	fast := ema(prices, m.cfg.FastPeriod)
	slow := ema(prices, m.cfg.SlowPeriod)
	macd := make([]float64, len(prices))
	for i := range prices {
		macd[i] = fast[i] - slow[i]
	}
	signal := ema(macd, m.cfg.SignalPeriod)
	last := len(prices) - 1
	return macd[last] - signal[last], true
}

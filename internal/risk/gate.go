package risk

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quantex/algo-engine/internal/types"
)

// Config defines the admission limits applied to every signal.
type Config struct {
	MinConfidence    float64 // signals below this confidence are dropped
	MaxTradeValuePct float64 // single trade value as a fraction of equity
	MaxExposure      float64 // portfolio exposure ceiling after admission
}

// DefaultConfig returns the standard admission limits.
func DefaultConfig() Config {
	return Config{
		MinConfidence:    60,
		MaxTradeValuePct: 0.05,
		MaxExposure:      0.80,
	}
}

// Decision is the outcome of evaluating one signal. A rejection is normal
// control flow, not an error; the signal is dropped and a fresh one must be
// generated on the next cycle.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Gate performs signal admission control ahead of capital allocation.
type Gate struct {
	cfg Config
}

func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate applies the admission rules in order: confidence, trade value,
// post-trade exposure.
func (g *Gate) Evaluate(sig *types.TradingSignal, portfolio *types.Portfolio) Decision {
	if sig.Confidence < g.cfg.MinConfidence {
		return g.reject(sig, fmt.Sprintf("confidence %.1f below minimum %.1f",
			sig.Confidence, g.cfg.MinConfidence))
	}

	tradeValue := sig.Notional()
	if portfolio.Equity <= 0 {
		return g.reject(sig, "portfolio has no equity")
	}
	if tradeValue > portfolio.Equity*g.cfg.MaxTradeValuePct {
		return g.reject(sig, fmt.Sprintf("trade value %.2f exceeds %.0f%% of equity %.2f",
			tradeValue, g.cfg.MaxTradeValuePct*100, portfolio.Equity))
	}

	exposureAfter := portfolio.Exposure() + tradeValue/portfolio.Equity
	if exposureAfter > g.cfg.MaxExposure {
		return g.reject(sig, fmt.Sprintf("exposure %.1f%% after trade exceeds limit %.0f%%",
			exposureAfter*100, g.cfg.MaxExposure*100))
	}

	return Decision{Approved: true}
}

func (g *Gate) reject(sig *types.TradingSignal, reason string) Decision {
	log.Info().
		Str("component", "risk_gate").
		Str("signal_id", sig.SignalID).
		Str("strategy", sig.Strategy).
		Str("symbol", sig.Symbol).
		Str("reason", reason).
		Msg("signal rejected")
	return Decision{Approved: false, Reason: reason}
}

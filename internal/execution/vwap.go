package execution

import (
	"context"
	"errors"
	"time"

	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/types"
)

// VWAPConfig configures one VWAP execution session.
type VWAPConfig struct {
	TotalVolume     float64
	Duration        time.Duration
	TickInterval    time.Duration
	MinChildVolume  float64
	MaxChildVolume  float64
	MaxDeviationPct float64 // skip the tick when price deviates further from the session VWAP
	Aggression      float64 // scales how much of the schedule gap each child chases
}

// DefaultVWAPConfig paces volume over an hour with 5s ticks.
func DefaultVWAPConfig(totalVolume float64) VWAPConfig {
	return VWAPConfig{
		TotalVolume:     totalVolume,
		Duration:        time.Hour,
		TickInterval:    5 * time.Second,
		MinChildVolume:  totalVolume / 200,
		MaxChildVolume:  totalVolume / 10,
		MaxDeviationPct: 1.0,
		Aggression:      1.0,
	}
}

// urgencyBoost multiplies aggression when deviation nears the skip limit.
const urgencyBoost = 1.5

// VWAP tracks the market's volume profile: each tick it chases the gap
// between the volume that should have executed by now and what actually has,
// skipping ticks when price runs too far from the session VWAP.
type VWAP struct {
	*session
	cfg VWAPConfig

	// session VWAP accumulators, written only by the run goroutine
	sumPV  float64
	sumVol float64
}

func NewVWAP(symbol string, side types.Side, signalID string, cfg VWAPConfig, deps Deps) (*VWAP, error) {
	if cfg.TotalVolume <= 0 {
		return nil, errors.New("vwap: total volume must be positive")
	}
	if cfg.Duration <= 0 {
		return nil, errors.New("vwap: duration must be positive")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.Aggression <= 0 {
		cfg.Aggression = 1.0
	}
	return &VWAP{
		session: newSession("vwap", symbol, side, signalID, cfg.TotalVolume, deps),
		cfg:     cfg,
	}, nil
}

// Start launches the scheduling loop.
func (v *VWAP) Start(ctx context.Context) error {
	if err := v.begin(); err != nil {
		return err
	}
	go v.run(ctx)
	return nil
}

func (v *VWAP) Stop() { v.stop() }

func (v *VWAP) Done() <-chan struct{} { return v.doneCh }

func (v *VWAP) Status() Status { return v.status() }

func (v *VWAP) run(ctx context.Context) {
	defer v.finish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.stopCh:
			return
		case <-v.deps.Clock.After(v.cfg.TickInterval):
			if v.tick(ctx) {
				return
			}
		}
	}
}

// tick executes one scheduling step; true means the session is complete.
func (v *VWAP) tick(ctx context.Context) bool {
	elapsed := v.elapsed()
	if elapsed >= v.cfg.Duration || v.remaining() <= 0 {
		return true
	}

	snap, err := v.deps.Source.GetSnapshot(v.symbol)
	if err != nil {
		if errors.Is(err, marketdata.ErrUnavailable) {
			v.logger.Debug().Msg("market data unavailable, skipping tick")
			return false
		}
		v.logger.Warn().Err(err).Msg("snapshot failed, skipping tick")
		return false
	}

	v.observe(snap)

	target := v.TargetVolumeByNow(elapsed)
	gap := target - v.Status().ExecutedVolume
	deviation := v.deviationPct(snap)

	aggression := v.cfg.Aggression
	if deviation > v.cfg.MaxDeviationPct*0.7 {
		aggression *= urgencyBoost
	}

	v.setDiag(map[string]interface{}{
		"session_vwap":  v.sessionVWAP(),
		"deviation_pct": deviation,
		"aggression":    aggression,
		"target_volume": target,
	})

	if deviation > v.cfg.MaxDeviationPct {
		v.logger.Debug().
			Float64("deviation_pct", deviation).
			Float64("max_deviation_pct", v.cfg.MaxDeviationPct).
			Msg("price too far from session vwap, skipping tick")
		return false
	}
	if gap <= 0 {
		return false
	}

	size := gap * aggression
	if size < v.cfg.MinChildVolume {
		size = v.cfg.MinChildVolume
	}
	if v.cfg.MaxChildVolume > 0 && size > v.cfg.MaxChildVolume {
		size = v.cfg.MaxChildVolume
	}
	if r := v.remaining(); size > r {
		size = r
	}
	if size <= 0 {
		return false
	}

	v.placeChild(ctx, size, types.OrderTypeMarket, 0)
	return v.remaining() <= 0
}

// TargetVolumeByNow is the volume the schedule expects executed after elapsed.
func (v *VWAP) TargetVolumeByNow(elapsed time.Duration) float64 {
	frac := float64(elapsed) / float64(v.cfg.Duration)
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	return v.cfg.TotalVolume * frac
}

// observe folds a snapshot into the session VWAP accumulators.
func (v *VWAP) observe(snap marketdata.Snapshot) {
	if snap.Volume <= 0 {
		return
	}
	v.sumPV += snap.Mid() * snap.Volume
	v.sumVol += snap.Volume
}

func (v *VWAP) sessionVWAP() float64 {
	if v.sumVol == 0 {
		return 0
	}
	return v.sumPV / v.sumVol
}

// deviationPct is how far the touch price has run away from the session VWAP,
// in percent, signed so that positive means adverse for this session's side.
func (v *VWAP) deviationPct(snap marketdata.Snapshot) float64 {
	vwap := v.sessionVWAP()
	if vwap <= 0 {
		return 0
	}
	if v.side == types.SideBuy {
		return (snap.Ask - vwap) / vwap * 100
	}
	return (vwap - snap.Bid) / vwap * 100
}

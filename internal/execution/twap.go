package execution

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/types"
)

// TWAPConfig configures one TWAP execution session.
type TWAPConfig struct {
	TotalVolume    float64
	Duration       time.Duration
	Interval       time.Duration // nominal spacing between slices
	TimingVariance float64       // fraction of Interval to jitter each wait by
	SizeVariance   float64       // max fractional perturbation of the even slice
}

// DefaultTWAPConfig slices volume evenly over an hour, one slice per minute.
func DefaultTWAPConfig(totalVolume float64) TWAPConfig {
	return TWAPConfig{
		TotalVolume:    totalVolume,
		Duration:       time.Hour,
		Interval:       time.Minute,
		TimingVariance: 0.2,
		SizeVariance:   0.3,
	}
}

// TWAP spreads volume evenly across time with jittered slice timing and size
// so the schedule is not predictable. Slices are market orders: time priority
// over price.
type TWAP struct {
	*session
	cfg TWAPConfig
}

func NewTWAP(symbol string, side types.Side, signalID string, cfg TWAPConfig, deps Deps) (*TWAP, error) {
	if cfg.TotalVolume <= 0 {
		return nil, errors.New("twap: total volume must be positive")
	}
	if cfg.Duration <= 0 {
		return nil, errors.New("twap: duration must be positive")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.SizeVariance < 0 || cfg.SizeVariance > 1 {
		cfg.SizeVariance = 0.3
	}
	if cfg.TimingVariance < 0 || cfg.TimingVariance >= 1 {
		cfg.TimingVariance = 0.2
	}
	return &TWAP{
		session: newSession("twap", symbol, side, signalID, cfg.TotalVolume, deps),
		cfg:     cfg,
	}, nil
}

func (t *TWAP) Start(ctx context.Context) error {
	if err := t.begin(); err != nil {
		return err
	}
	go t.run(ctx)
	return nil
}

func (t *TWAP) Stop() { t.stop() }

func (t *TWAP) Done() <-chan struct{} { return t.doneCh }

func (t *TWAP) Status() Status { return t.status() }

func (t *TWAP) run(ctx context.Context) {
	defer t.finish(ctx)
	for {
		wait := t.nextWait()
		t.setDiag(map[string]interface{}{
			"next_slice_in": wait.String(),
			"interval":      t.cfg.Interval.String(),
		})
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-t.deps.Clock.After(wait):
			if t.tick(ctx) {
				return
			}
		}
	}
}

// nextWait jitters the nominal interval by the configured timing variance.
func (t *TWAP) nextWait() time.Duration {
	if t.cfg.TimingVariance == 0 {
		return t.cfg.Interval
	}
	jitter := (t.deps.RNG.Float64()*2 - 1) * t.cfg.TimingVariance
	return time.Duration(float64(t.cfg.Interval) * (1 + jitter))
}

// tick places the next slice; true means the session is complete.
func (t *TWAP) tick(ctx context.Context) bool {
	elapsed := t.elapsed()
	remaining := t.remaining()
	if elapsed >= t.cfg.Duration || remaining <= 0 {
		return true
	}

	if _, err := t.deps.Source.GetSnapshot(t.symbol); err != nil {
		if errors.Is(err, marketdata.ErrUnavailable) {
			t.logger.Debug().Msg("market data unavailable, skipping slice")
			return false
		}
		t.logger.Warn().Err(err).Msg("snapshot failed, skipping slice")
		return false
	}

	size := t.SliceSize(elapsed, remaining)
	if size <= 0 {
		return false
	}

	t.placeChild(ctx, size, types.OrderTypeMarket, 0)
	return t.remaining() <= 0
}

// SliceSize recomputes the even split against remaining volume and remaining
// intervals, then perturbs it by up to ±SizeVariance.
func (t *TWAP) SliceSize(elapsed time.Duration, remaining float64) float64 {
	left := t.cfg.Duration - elapsed
	if left <= 0 {
		return remaining
	}
	intervals := math.Ceil(float64(left) / float64(t.cfg.Interval))
	if intervals < 1 {
		intervals = 1
	}
	even := remaining / intervals

	perturb := (t.deps.RNG.Float64()*2 - 1) * t.cfg.SizeVariance
	size := even * (1 + perturb)
	if size > remaining {
		size = remaining
	}
	if size < 0 {
		size = 0
	}
	return size
}

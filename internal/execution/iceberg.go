package execution

import (
	"context"
	"errors"
	"time"

	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/types"
)

// IcebergConfig configures one iceberg execution session.
type IcebergConfig struct {
	TotalVolume     float64
	DisplaySize     float64       // nominal visible slice size
	MaxActiveSlices int           // concurrent resting children
	SecrecyFactor   float64       // max fractional shrink applied to each slice
	LimitOffsetPct  float64       // how far inside the touch to park a slice
	ReplaceDelay    time.Duration // pause before replacing a rejected slice
	PollInterval    time.Duration
	MaxDuration     time.Duration
}

// DefaultIcebergConfig hides volume behind small displayed slices.
func DefaultIcebergConfig(totalVolume float64) IcebergConfig {
	return IcebergConfig{
		TotalVolume:     totalVolume,
		DisplaySize:     totalVolume / 20,
		MaxActiveSlices: 3,
		SecrecyFactor:   0.3,
		LimitOffsetPct:  0.05,
		ReplaceDelay:    10 * time.Second,
		PollInterval:    2 * time.Second,
		MaxDuration:     2 * time.Hour,
	}
}

// Iceberg keeps at most MaxActiveSlices small limit orders visible at a time,
// replacing rejected slices with differently sized ones after a short delay so
// the true parent size stays hidden.
type Iceberg struct {
	*session
	cfg IcebergConfig

	// run-goroutine state
	active        []*types.ExecutionOrder
	nextPlacement time.Time
}

func NewIceberg(symbol string, side types.Side, signalID string, cfg IcebergConfig, deps Deps) (*Iceberg, error) {
	if cfg.TotalVolume <= 0 {
		return nil, errors.New("iceberg: total volume must be positive")
	}
	if cfg.DisplaySize <= 0 {
		return nil, errors.New("iceberg: display size must be positive")
	}
	if cfg.MaxActiveSlices <= 0 {
		cfg.MaxActiveSlices = 1
	}
	if cfg.SecrecyFactor < 0 || cfg.SecrecyFactor >= 1 {
		cfg.SecrecyFactor = 0.3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 2 * time.Hour
	}
	return &Iceberg{
		session: newSession("iceberg", symbol, side, signalID, cfg.TotalVolume, deps),
		cfg:     cfg,
	}, nil
}

func (ib *Iceberg) Start(ctx context.Context) error {
	if err := ib.begin(); err != nil {
		return err
	}
	go ib.run(ctx)
	return nil
}

func (ib *Iceberg) Stop() { ib.stop() }

func (ib *Iceberg) Done() <-chan struct{} { return ib.doneCh }

func (ib *Iceberg) Status() Status { return ib.status() }

func (ib *Iceberg) run(ctx context.Context) {
	defer ib.finish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ib.stopCh:
			return
		case <-ib.deps.Clock.After(ib.cfg.PollInterval):
			if ib.tick(ctx) {
				return
			}
		}
	}
}

// tick polls resting slices, then tops the book back up; true when complete.
func (ib *Iceberg) tick(ctx context.Context) bool {
	if ib.elapsed() >= ib.cfg.MaxDuration {
		return true
	}

	ib.pollSlices(ctx)
	if ib.remaining() <= 0 {
		return true
	}
	ib.replenish(ctx)

	ib.setDiag(map[string]interface{}{
		"active_slices":  len(ib.active),
		"display_size":   ib.cfg.DisplaySize,
		"next_placement": ib.nextPlacement,
	})
	return false
}

// pollSlices refreshes the broker state of every resting slice. A rejected
// slice is cancelled on our side and its replacement deferred by ReplaceDelay
// with a freshly computed size, never resubmitted verbatim.
func (ib *Iceberg) pollSlices(ctx context.Context) {
	var still []*types.ExecutionOrder
	for _, o := range ib.active {
		res, err := ib.deps.Gateway.OrderStatus(ctx, o.OrderID)
		if err != nil {
			ib.logger.Warn().Err(err).Str("order_id", o.OrderID).Msg("slice status poll failed")
			still = append(still, o)
			continue
		}
		ib.applyResult(o, res)
		ib.record(o)

		switch o.Status {
		case types.OrderStatusRejected:
			ib.nextPlacement = ib.deps.Clock.Now().Add(ib.cfg.ReplaceDelay)
			ib.logger.Debug().
				Str("order_id", o.OrderID).
				Msg("slice rejected, scheduling resized replacement")
		case types.OrderStatusFilled, types.OrderStatusCancelled:
			// slot freed
		default:
			still = append(still, o)
		}
	}
	ib.active = still
}

// replenish places new slices until MaxActiveSlices are visible.
func (ib *Iceberg) replenish(ctx context.Context) {
	now := ib.deps.Clock.Now()
	if now.Before(ib.nextPlacement) {
		return
	}

	snap, err := ib.deps.Source.GetSnapshot(ib.symbol)
	if err != nil {
		if errors.Is(err, marketdata.ErrUnavailable) {
			ib.logger.Debug().Msg("market data unavailable, holding placements")
		}
		return
	}

	for len(ib.active) < ib.cfg.MaxActiveSlices {
		size := ib.SliceSize()
		if size <= 0 {
			return
		}
		order := ib.placeChild(ctx, size, types.OrderTypeLimit, ib.limitPrice(snap))
		if order.Status == types.OrderStatusRejected {
			// a failed placement waits out ReplaceDelay, same as a rejected
			// resting slice; the retry happens on a later tick
			ib.nextPlacement = ib.deps.Clock.Now().Add(ib.cfg.ReplaceDelay)
			return
		}
		if !order.Status.Terminal() {
			ib.active = append(ib.active, order)
		}
		if ib.remaining() <= 0 {
			return
		}
	}
}

// SliceSize is the display size shrunk by a random secrecy haircut, bounded
// by the volume still unexecuted and uncommitted.
func (ib *Iceberg) SliceSize() float64 {
	size := ib.cfg.DisplaySize * (1 - ib.cfg.SecrecyFactor*ib.deps.RNG.Float64())

	committed := 0.0
	for _, o := range ib.active {
		committed += o.Remaining()
	}
	if room := ib.remaining() - committed; size > room {
		size = room
	}
	if size < 0 {
		size = 0
	}
	return size
}

// limitPrice parks the slice just inside the touch: a shade below the bid for
// buys, a shade above the ask for sells.
func (ib *Iceberg) limitPrice(snap marketdata.Snapshot) float64 {
	offset := 1 + ib.cfg.LimitOffsetPct/100
	if ib.side == types.SideBuy {
		return snap.Bid / offset
	}
	return snap.Ask * offset
}

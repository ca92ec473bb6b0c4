package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MockConfig tunes the synthetic price process of a MockSource.
type MockConfig struct {
	BasePrice  float64 // starting price per symbol
	Drift      float64 // per-bar drift, e.g. 0.0001
	Volatility float64 // per-bar stddev of returns, e.g. 0.01
	SpreadBps  float64 // quoted spread in basis points of the mid
	BaseVolume float64 // mean bar volume
	Seed       int64
	Interval   time.Duration // bar interval
}

// DefaultMockConfig returns the parameters used by the simulation.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		BasePrice:  100,
		Drift:      0.0001,
		Volatility: 0.01,
		SpreadBps:  5,
		BaseVolume: 10000,
		Seed:       1,
		Interval:   time.Minute,
	}
}

type series struct {
	candles []Candle
	last    float64
}

// MockSource generates seeded random-walk bars and quotes for a fixed symbol set.
// All snapshots it serves are tagged Synthetic.
type MockSource struct {
	mu          sync.Mutex
	cfg         MockConfig
	rng         *rand.Rand
	symbols     map[string]*series
	unavailable bool
	now         time.Time
}

// NewMockSource preloads warmup bars for each symbol so strategies have history
// from the first cycle.
func NewMockSource(symbols []string, cfg MockConfig, warmupBars int) *MockSource {
	m := &MockSource{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		symbols: make(map[string]*series, len(symbols)),
		now:     time.Now().Add(-time.Duration(warmupBars) * cfg.Interval),
	}
	for _, sym := range symbols {
		m.symbols[sym] = &series{last: cfg.BasePrice}
	}
	for i := 0; i < warmupBars; i++ {
		m.Advance()
	}
	log.Debug().
		Int("symbols", len(symbols)).
		Int("warmup_bars", warmupBars).
		Int64("seed", cfg.Seed).
		Msg("mock market data source initialized")
	return m
}

// Advance appends one bar to every symbol's series.
func (m *MockSource) Advance() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(m.cfg.Interval)
	for _, s := range m.symbols {
		open := s.last
		ret := m.cfg.Drift + m.cfg.Volatility*m.rng.NormFloat64()
		close := open * math.Exp(ret)
		high := math.Max(open, close) * (1 + math.Abs(m.rng.NormFloat64())*m.cfg.Volatility/2)
		low := math.Min(open, close) * (1 - math.Abs(m.rng.NormFloat64())*m.cfg.Volatility/2)
		volume := m.cfg.BaseVolume * (0.5 + m.rng.Float64())
		s.candles = append(s.candles, Candle{
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			Timestamp: m.now,
		})
		s.last = close
	}
}

// Run advances the series on every tick until the context is cancelled.
func (m *MockSource) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Advance()
		}
	}
}

// SetUnavailable toggles transient-outage behavior for fault injection.
func (m *MockSource) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// SetPrice pins the latest price of a symbol, for tests and scenarios.
func (m *MockSource) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.symbols[symbol]; ok {
		s.last = price
	}
}

// GetSnapshot implements Source.
func (m *MockSource) GetSnapshot(symbol string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return Snapshot{}, ErrUnavailable
	}
	s, ok := m.symbols[symbol]
	if !ok {
		return Snapshot{}, ErrUnavailable
	}
	half := s.last * m.cfg.SpreadBps / 10000 / 2
	return Snapshot{
		Symbol:    symbol,
		Bid:       s.last - half,
		Ask:       s.last + half,
		Volume:    m.cfg.BaseVolume,
		Timestamp: m.now,
		Synthetic: true,
	}, nil
}

// GetHistory implements Source.
func (m *MockSource) GetHistory(symbol string, bars int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return nil, ErrUnavailable
	}
	s, ok := m.symbols[symbol]
	if !ok {
		return nil, ErrUnavailable
	}
	if bars > len(s.candles) {
		bars = len(s.candles)
	}
	out := make([]Candle, bars)
	copy(out, s.candles[len(s.candles)-bars:])
	return out, nil
}

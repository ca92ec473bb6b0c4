package marketdata

import (
	"errors"
	"time"
)

// ErrUnavailable signals a normal transient outage of the data source.
// Callers must treat it as "skip this cycle", not as a failure.
var ErrUnavailable = errors.New("market data unavailable")

// Snapshot is the current top-of-book view for one symbol.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Synthetic bool      `json:"synthetic,omitempty"` // true when generated as a fallback
}

// Mid returns the quote midpoint.
func (s Snapshot) Mid() float64 {
	return (s.Bid + s.Ask) / 2
}

// Candle is one OHLCV bar.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Source supplies market data to the signal engine and schedulers.
type Source interface {
	// GetSnapshot returns the current quote for the symbol.
	GetSnapshot(symbol string) (Snapshot, error)
	// GetHistory returns up to bars candles, oldest first.
	GetHistory(symbol string, bars int) ([]Candle, error)
}

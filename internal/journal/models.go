package journal

import (
	"time"

	"gorm.io/gorm"
)

// SignalRecord is the journaled form of a trading signal together with its
// admission outcome.
type SignalRecord struct {
	gorm.Model  `json:"-"`
	SignalID    string    `gorm:"uniqueIndex" json:"signal_id"`
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	TargetPrice float64   `json:"target_price"`
	Volume      float64   `json:"volume"`
	Confidence  float64   `json:"confidence"`
	Strategy    string    `json:"strategy"`
	Params      string    `json:"params,omitempty"` // JSON-encoded parameter blob
	Approved    bool      `json:"approved"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExecutionRecord summarizes one scheduler session.
type ExecutionRecord struct {
	gorm.Model     `json:"-"`
	SessionID      string    `gorm:"uniqueIndex" json:"session_id"`
	SignalID       string    `json:"signal_id,omitempty"`
	Algorithm      string    `json:"algorithm"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	TotalVolume    float64   `json:"total_volume"`
	ExecutedVolume float64   `json:"executed_volume"`
	AvgFillPrice   float64   `json:"avg_fill_price"`
	Commission     float64   `json:"commission"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

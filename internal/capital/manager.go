package capital

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotInitialized  = errors.New("capital manager not initialized")
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// maxPositionFraction is the fixed share of a strategy's allocation that a
// single position may use.
const maxPositionFraction = 0.10

// AccountFunc supplies the total capital available at the broker.
type AccountFunc func() (float64, error)

// StrategySettings declares one strategy's share of total capital.
type StrategySettings struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	RiskPercentage float64 `json:"risk_percentage"` // percent of total capital, 0-100
}

// Settings configures capital management at initialization.
type Settings struct {
	RiskTolerance float64            `json:"risk_tolerance"` // (0, 1]
	MaxDrawdown   float64            `json:"max_drawdown"`   // fraction, e.g. 0.15
	Strategies    []StrategySettings `json:"strategies"`
}

// Allocation is the capital ledger for one strategy. Records are owned and
// mutated exclusively by the Manager.
type Allocation struct {
	StrategyID      string  `json:"strategy_id"`
	Name            string  `json:"name"`
	Allocated       float64 `json:"allocated"`
	Used            float64 `json:"used"`
	Available       float64 `json:"available"`
	MaxPositionSize float64 `json:"max_position_size"`
	Active          bool    `json:"active"`
}

// OpenCheck is the outcome of CanOpenPosition.
type OpenCheck struct {
	CanOpen         bool    `json:"can_open"`
	Reason          string  `json:"reason,omitempty"`
	SuggestedAmount float64 `json:"suggested_amount,omitempty"`
}

// Manager tracks per-strategy capital and enforces position and drawdown
// limits. Every scheduler and strategy loop mutates allocations through this
// one mutex-guarded owner.
type Manager struct {
	mu          sync.Mutex
	settings    Settings
	allocations map[string]*Allocation
	initialized bool

	// equity curve marks for drawdown
	peakEquity   float64
	latestEquity float64
}

func NewManager() *Manager {
	return &Manager{
		allocations: make(map[string]*Allocation),
	}
}

// Initialize validates settings, pulls total capital from the account and
// derives each strategy's allocation. Invalid configuration fails fast;
// the manager must not start.
func (m *Manager) Initialize(settings Settings, account AccountFunc) error {
	if settings.RiskTolerance <= 0 || settings.RiskTolerance > 1 {
		return fmt.Errorf("risk tolerance %.3f out of range (0, 1]", settings.RiskTolerance)
	}
	totalPct := 0.0
	for _, s := range settings.Strategies {
		if s.RiskPercentage < 0 {
			return fmt.Errorf("strategy %s: negative risk percentage", s.ID)
		}
		totalPct += s.RiskPercentage
	}
	if totalPct > 100 {
		return fmt.Errorf("strategy risk percentages sum to %.1f%%, exceeding 100%%", totalPct)
	}

	totalCapital, err := account()
	if err != nil {
		return fmt.Errorf("fetching account capital: %w", err)
	}
	if totalCapital <= 0 {
		return fmt.Errorf("account reports non-positive capital %.2f", totalCapital)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = settings
	m.allocations = make(map[string]*Allocation, len(settings.Strategies))
	for _, s := range settings.Strategies {
		allocated := totalCapital * s.RiskPercentage / 100
		m.allocations[s.ID] = &Allocation{
			StrategyID:      s.ID,
			Name:            s.Name,
			Allocated:       allocated,
			Available:       allocated,
			MaxPositionSize: allocated * maxPositionFraction,
			Active:          true,
		}
	}
	m.peakEquity = totalCapital
	m.latestEquity = totalCapital
	m.initialized = true

	log.Info().
		Str("component", "capital_manager").
		Float64("total_capital", totalCapital).
		Int("strategies", len(settings.Strategies)).
		Msg("capital manager initialized")

	return nil
}

// CanOpenPosition checks whether a strategy may commit amount to a new
// position. When the amount itself is the problem, SuggestedAmount carries the
// largest admissible alternative.
func (m *Manager) CanOpenPosition(strategyID string, amount float64) OpenCheck {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canOpenLocked(strategyID, amount)
}

func (m *Manager) canOpenLocked(strategyID string, amount float64) OpenCheck {
	alloc, ok := m.allocations[strategyID]
	if !ok {
		return OpenCheck{Reason: "unknown strategy"}
	}
	if !alloc.Active {
		return OpenCheck{Reason: "strategy is paused"}
	}
	if dd := m.drawdownLocked(); dd > m.settings.MaxDrawdown {
		return OpenCheck{Reason: fmt.Sprintf("drawdown %.1f%% exceeds maximum %.1f%%",
			dd*100, m.settings.MaxDrawdown*100)}
	}
	if amount > alloc.MaxPositionSize {
		return OpenCheck{
			Reason:          fmt.Sprintf("amount %.2f exceeds max position size %.2f", amount, alloc.MaxPositionSize),
			SuggestedAmount: min(alloc.MaxPositionSize, alloc.Available),
		}
	}
	if amount > alloc.Available {
		return OpenCheck{
			Reason:          fmt.Sprintf("amount %.2f exceeds available capital %.2f", amount, alloc.Available),
			SuggestedAmount: alloc.Available,
		}
	}
	return OpenCheck{CanOpen: true}
}

// Allocate moves amount from available to used. It fails whenever
// CanOpenPosition would reject the same request. Check and mutation happen
// under one lock so concurrent schedulers cannot oversubscribe.
func (m *Manager) Allocate(strategyID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if check := m.canOpenLocked(strategyID, amount); !check.CanOpen {
		return fmt.Errorf("allocate %.2f for %s: %s", amount, strategyID, check.Reason)
	}

	alloc := m.allocations[strategyID]
	alloc.Available -= amount
	alloc.Used += amount

	log.Debug().
		Str("component", "capital_manager").
		Str("strategy", strategyID).
		Float64("amount", amount).
		Float64("available", alloc.Available).
		Float64("used", alloc.Used).
		Msg("capital allocated")

	return nil
}

// Release returns amount to available and applies profit (or loss, when
// negative). Used is clamped at zero and available never goes negative.
func (m *Manager) Release(strategyID string, amount, profit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.allocations[strategyID]
	if !ok {
		return ErrUnknownStrategy
	}

	alloc.Used -= amount
	if alloc.Used < 0 {
		alloc.Used = 0
	}
	alloc.Available += amount + profit
	if alloc.Available < 0 {
		alloc.Available = 0
	}

	m.latestEquity += profit
	if m.latestEquity > m.peakEquity {
		m.peakEquity = m.latestEquity
	}

	log.Debug().
		Str("component", "capital_manager").
		Str("strategy", strategyID).
		Float64("amount", amount).
		Float64("profit", profit).
		Float64("available", alloc.Available).
		Msg("capital released")

	return nil
}

// Pause frees all of the strategy's used capital and deactivates it.
func (m *Manager) Pause(strategyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseLocked(strategyID)
}

func (m *Manager) pauseLocked(strategyID string) error {
	alloc, ok := m.allocations[strategyID]
	if !ok {
		return ErrUnknownStrategy
	}
	alloc.Available += alloc.Used
	alloc.Used = 0
	alloc.Active = false
	log.Info().
		Str("component", "capital_manager").
		Str("strategy", strategyID).
		Msg("strategy paused, capital freed")
	return nil
}

// Resume reactivates a paused strategy. Capital freed by Pause stays freed.
func (m *Manager) Resume(strategyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.allocations[strategyID]
	if !ok {
		return ErrUnknownStrategy
	}
	alloc.Active = true
	log.Info().
		Str("component", "capital_manager").
		Str("strategy", strategyID).
		Msg("strategy resumed")
	return nil
}

// EmergencyStop pauses every strategy atomically under one lock.
func (m *Manager) EmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.allocations {
		_ = m.pauseLocked(id)
	}
	log.Warn().
		Str("component", "capital_manager").
		Msg("emergency stop: all strategies paused")
}

// RecordEquity marks the current portfolio equity on the drawdown curve.
func (m *Manager) RecordEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latestEquity = equity
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
}

// CurrentDrawdown is the peak-to-trough decline of the recorded equity curve.
func (m *Manager) CurrentDrawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdownLocked()
}

func (m *Manager) drawdownLocked() float64 {
	if m.peakEquity <= 0 {
		return 0
	}
	dd := (m.peakEquity - m.latestEquity) / m.peakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// Allocation returns a copy of one strategy's ledger entry.
func (m *Manager) Allocation(strategyID string) (Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.allocations[strategyID]
	if !ok {
		return Allocation{}, ErrUnknownStrategy
	}
	return *alloc, nil
}

// Allocations returns a copy of every ledger entry.
func (m *Manager) Allocations() []Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Allocation, 0, len(m.allocations))
	for _, alloc := range m.allocations {
		out = append(out, *alloc)
	}
	return out
}

// Initialized reports whether Initialize has completed successfully.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

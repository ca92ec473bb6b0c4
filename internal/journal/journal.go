package journal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantex/algo-engine/internal/risk"
	"github.com/quantex/algo-engine/internal/types"
)

// inMemoryDSN keeps the journal non-durable: allocations and order books
// reset on process restart.
const inMemoryDSN = "file::memory:?cache=shared"

// Database records signals, executions and child orders for the API to query.
type Database struct {
	db *gorm.DB
}

// NewDatabase opens the in-memory journal and migrates its schema.
func NewDatabase() (*Database, error) {
	db, err := gorm.Open(sqlite.Open(inMemoryDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.AutoMigrate(
		&SignalRecord{},
		&ExecutionRecord{},
		&types.ExecutionOrder{},
	); err != nil {
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}
	return &Database{db: db}, nil
}

// RecordSignal journals a signal and its admission decision.
func (d *Database) RecordSignal(sig *types.TradingSignal, decision risk.Decision) error {
	params := ""
	if len(sig.Params) > 0 {
		if raw, err := json.Marshal(sig.Params); err == nil {
			params = string(raw)
		}
	}
	rec := SignalRecord{
		SignalID:    sig.SignalID,
		Symbol:      sig.Symbol,
		Action:      string(sig.Action),
		TargetPrice: sig.TargetPrice,
		Volume:      sig.Volume,
		Confidence:  sig.Confidence,
		Strategy:    sig.Strategy,
		Params:      params,
		Approved:    decision.Approved,
		Reason:      decision.Reason,
		CreatedAt:   sig.CreatedAt,
	}
	return d.db.Create(&rec).Error
}

// RecordOrder implements execution.Recorder: upserts a child order by OrderID.
func (d *Database) RecordOrder(o *types.ExecutionOrder) {
	var existing types.ExecutionOrder
	err := d.db.Where("order_id = ?", o.OrderID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = d.db.Create(o).Error
	case err == nil:
		o.ID = existing.ID
		err = d.db.Save(o).Error
	}
	if err != nil {
		log.Warn().Err(err).Str("order_id", o.OrderID).Msg("journaling child order failed")
	}
}

// UpsertExecution writes or refreshes a session summary.
func (d *Database) UpsertExecution(rec *ExecutionRecord) error {
	var existing ExecutionRecord
	err := d.db.Where("session_id = ?", rec.SessionID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(rec).Error
	}
	if err != nil {
		return err
	}
	rec.ID = existing.ID
	return d.db.Save(rec).Error
}

// GetExecution fetches a session summary by id.
func (d *Database) GetExecution(sessionID string) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	if err := d.db.Where("session_id = ?", sessionID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListExecutions returns session summaries, newest first.
func (d *Database) ListExecutions(limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []ExecutionRecord
	err := d.db.Order("created_at desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// ListOrders returns the child orders of one session in creation order.
func (d *Database) ListOrders(sessionID string) ([]types.ExecutionOrder, error) {
	var orders []types.ExecutionOrder
	err := d.db.Where("session_id = ?", sessionID).Order("id asc").Find(&orders).Error
	return orders, err
}

// ListSignals returns journaled signals, newest first.
func (d *Database) ListSignals(limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []SignalRecord
	err := d.db.Order("created_at desc").Limit(limit).Find(&recs).Error
	return recs, err
}

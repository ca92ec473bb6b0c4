package journal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantex/algo-engine/internal/risk"
	"github.com/quantex/algo-engine/internal/types"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase()
	require.NoError(t, err)
	return db
}

func TestRecordSignalRoundTrip(t *testing.T) {
	db := newTestDB(t)

	sig := &types.TradingSignal{
		SignalID:    uuid.New().String(),
		Symbol:      "EURUSD",
		Action:      types.SideBuy,
		TargetPrice: 1.1,
		Volume:      1000,
		Confidence:  72,
		Strategy:    "momentum-test",
		Params:      map[string]interface{}{"z_score": -2.4},
	}
	decision := risk.Decision{Approved: false, Reason: "confidence 52.0 below minimum 60.0"}
	require.NoError(t, db.RecordSignal(sig, decision))

	records, err := db.ListSignals(10)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	var found *SignalRecord
	for i := range records {
		if records[i].SignalID == sig.SignalID {
			found = &records[i]
			break
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "EURUSD", found.Symbol)
	assert.Equal(t, "BUY", found.Action)
	assert.False(t, found.Approved)
	assert.Contains(t, found.Reason, "confidence")
	assert.Contains(t, found.Params, "z_score")
}

func TestUpsertExecutionUpdatesInPlace(t *testing.T) {
	db := newTestDB(t)
	sessionID := uuid.New().String()

	require.NoError(t, db.UpsertExecution(&ExecutionRecord{
		SessionID:      sessionID,
		Algorithm:      "vwap",
		Symbol:         "EURUSD",
		Side:           "BUY",
		TotalVolume:    1000,
		ExecutedVolume: 250,
		Status:         "ACTIVE",
	}))
	require.NoError(t, db.UpsertExecution(&ExecutionRecord{
		SessionID:      sessionID,
		Algorithm:      "vwap",
		Symbol:         "EURUSD",
		Side:           "BUY",
		TotalVolume:    1000,
		ExecutedVolume: 1000,
		AvgFillPrice:   1.102,
		Status:         "STOPPED",
	}))

	rec, err := db.GetExecution(sessionID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1000.0, rec.ExecutedVolume)
	assert.Equal(t, "STOPPED", rec.Status)
}

func TestGetExecutionUnknownSession(t *testing.T) {
	db := newTestDB(t)
	rec, err := db.GetExecution("no-such-session")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordOrderUpsertsByOrderID(t *testing.T) {
	db := newTestDB(t)
	sessionID := uuid.New().String()
	orderID := uuid.New().String()

	order := &types.ExecutionOrder{
		OrderID:   orderID,
		SessionID: sessionID,
		SignalID:  "sig-1",
		Symbol:    "EURUSD",
		Side:      types.SideBuy,
		Quantity:  100,
		OrderType: types.OrderTypeMarket,
		Status:    types.OrderStatusPending,
	}
	db.RecordOrder(order)

	order.Status = types.OrderStatusFilled
	order.FilledQty = 100
	order.AvgPrice = 1.1
	db.RecordOrder(order)

	orders, err := db.ListOrders(sessionID)
	require.NoError(t, err)
	require.Len(t, orders, 1, "same order id must update, not duplicate")
	assert.Equal(t, types.OrderStatusFilled, orders[0].Status)
	assert.Equal(t, 100.0, orders[0].FilledQty)
}

package marketdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSourcePreloadsWarmupBars(t *testing.T) {
	src := NewMockSource([]string{"EURUSD"}, DefaultMockConfig(), 50)

	history, err := src.GetHistory("EURUSD", 50)
	require.NoError(t, err)
	assert.Len(t, history, 50)

	short, err := src.GetHistory("EURUSD", 10)
	require.NoError(t, err)
	assert.Len(t, short, 10)

	over, err := src.GetHistory("EURUSD", 500)
	require.NoError(t, err)
	assert.Len(t, over, 50, "history is capped at available bars")
}

func TestMockSourceSnapshotsAreSynthetic(t *testing.T) {
	src := NewMockSource([]string{"EURUSD"}, DefaultMockConfig(), 10)

	snap, err := src.GetSnapshot("EURUSD")
	require.NoError(t, err)
	assert.True(t, snap.Synthetic)
	assert.Less(t, snap.Bid, snap.Ask)
	assert.InDelta(t, snap.Mid(), (snap.Bid+snap.Ask)/2, 1e-12)
}

func TestMockSourceUnavailable(t *testing.T) {
	src := NewMockSource([]string{"EURUSD"}, DefaultMockConfig(), 10)
	src.SetUnavailable(true)

	_, err := src.GetSnapshot("EURUSD")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = src.GetHistory("EURUSD", 5)
	assert.ErrorIs(t, err, ErrUnavailable)

	src.SetUnavailable(false)
	_, err = src.GetSnapshot("EURUSD")
	assert.NoError(t, err)
}

func TestMockSourceUnknownSymbol(t *testing.T) {
	src := NewMockSource([]string{"EURUSD"}, DefaultMockConfig(), 10)
	_, err := src.GetSnapshot("XAUUSD")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMockSourceDeterministicWithSeed(t *testing.T) {
	cfg := DefaultMockConfig()
	cfg.Seed = 99

	a := NewMockSource([]string{"EURUSD"}, cfg, 30)
	b := NewMockSource([]string{"EURUSD"}, cfg, 30)

	ha, err := a.GetHistory("EURUSD", 30)
	require.NoError(t, err)
	hb, err := b.GetHistory("EURUSD", 30)
	require.NoError(t, err)

	for i := range ha {
		assert.Equal(t, ha[i].Close, hb[i].Close)
	}
}

func TestMockSourceAdvanceAppendsBars(t *testing.T) {
	src := NewMockSource([]string{"EURUSD"}, DefaultMockConfig(), 5)
	src.Advance()

	history, err := src.GetHistory("EURUSD", 10)
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.True(t, history[5].Timestamp.After(history[4].Timestamp))
	assert.Equal(t, history[4].Close, history[5].Open, "bars chain open to previous close")
}

func TestMockSourceSetPricePinsMid(t *testing.T) {
	src := NewMockSource([]string{"EURUSD"}, DefaultMockConfig(), 5)
	src.SetPrice("EURUSD", 123.45)

	snap, err := src.GetSnapshot("EURUSD")
	require.NoError(t, err)
	assert.InDelta(t, 123.45, snap.Mid(), 1e-9)
}

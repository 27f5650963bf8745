package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

func TestMergeKeepsKnownFields(t *testing.T) {
	s := NewStateStore()
	s.Track(eurusdBuy("1"))

	// Partial payload: only price, profit and levels.
	prev, next, existed := s.Merge(domain.Position{
		ID:           "1",
		CurrentPrice: 1.0950,
		Profit:       50,
		StopLoss:     domain.FloatPtr(1.0900),
	})
	require.True(t, existed)

	assert.Equal(t, "EURUSD", next.Symbol)
	assert.Equal(t, domain.PositionTypeBuy, next.Type)
	assert.Equal(t, 0.1, next.Volume)
	assert.Equal(t, 1.0900, next.OpenPrice)
	assert.Equal(t, 1.0950, next.CurrentPrice)
	assert.Equal(t, 50.0, next.Profit)
	require.NotNil(t, next.StopLoss)
	assert.Equal(t, 1.0900, *next.StopLoss)
	assert.Nil(t, next.TakeProfit, "missing take profit means removed at the broker")

	require.NotNil(t, prev.TakeProfit)
	assert.Equal(t, 1.1000, *prev.TakeProfit)
}

func TestMergeZeroProfitAtPrice(t *testing.T) {
	s := NewStateStore()
	s.Track(eurusdBuy("1"))

	_, next, _ := s.Merge(domain.Position{ID: "1", CurrentPrice: 1.0900, Profit: 0})
	assert.Zero(t, next.Profit)

	s.Track(eurusdBuy("2"))
	_, next, _ = s.Merge(domain.Position{ID: "2"})
	assert.Equal(t, 5.0, next.Profit)
}

func TestMergeUnknownPositionReportsNotExisted(t *testing.T) {
	s := NewStateStore()
	_, _, existed := s.Merge(eurusdBuy("9"))
	assert.False(t, existed)
}

func TestTakeIsIdempotent(t *testing.T) {
	s := NewStateStore()
	s.Track(eurusdBuy("1"))

	st, ok := s.Take("1")
	require.True(t, ok)
	assert.Equal(t, "EURUSD", st.Symbol)

	_, ok = s.Take("1")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestSeedReportsVanished(t *testing.T) {
	s := NewStateStore()
	s.Track(eurusdBuy("3"))
	s.Track(eurusdBuy("1"))
	s.Track(eurusdBuy("2"))

	vanished := s.Seed([]domain.Position{eurusdBuy("2"), eurusdBuy("4")})
	assert.Equal(t, []string{"1", "3"}, vanished)
	// Vanished positions stay tracked until their close is processed.
	assert.Equal(t, []string{"1", "2", "3", "4"}, s.IDs())

	s.Clear()
	assert.Zero(t, s.Len())
}

package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

func state(symbol string, dir domain.PositionType, entry float64, sl, tp *float64) domain.PositionState {
	return domain.PositionState{
		Symbol:       symbol,
		Type:         dir,
		OpenPrice:    entry,
		CurrentPrice: entry,
		StopLoss:     sl,
		TakeProfit:   tp,
	}
}

func TestClassifyTrailingStop(t *testing.T) {
	prev := state("EURUSD", domain.PositionTypeBuy, 1.0900, domain.FloatPtr(1.0900), nil)
	next := prev
	next.CurrentPrice = 1.1000
	next.StopLoss = domain.FloatPtr(1.0950)

	changes := ClassifyChanges(prev, next)
	require.Len(t, changes, 1)
	c := changes[0]
	assert.Equal(t, LevelStopLoss, c.Level)
	assert.Equal(t, ChangeTrailing, c.Kind)
	assert.InDelta(t, 50, c.ProfitLocked, 0.1)
}

func TestClassifyStopChanges(t *testing.T) {
	f := domain.FloatPtr
	cases := []struct {
		name     string
		dir      domain.PositionType
		old, cur *float64
		want     ChangeKind
	}{
		{"breakeven buy", domain.PositionTypeBuy, f(1.0850), f(1.0900), ChangeBreakeven},
		{"tightening buy", domain.PositionTypeBuy, f(1.0850), f(1.0880), ChangeTightening},
		{"widening buy", domain.PositionTypeBuy, f(1.0850), f(1.0800), ChangeWidening},
		{"trailing sell", domain.PositionTypeSell, f(1.0950), f(1.0870), ChangeTrailing},
		{"widening sell", domain.PositionTypeSell, f(1.0950), f(1.0990), ChangeWidening},
		{"added", domain.PositionTypeBuy, nil, f(1.0850), ChangeSLAdded},
		{"removed", domain.PositionTypeBuy, f(1.0850), nil, ChangeSLRemoved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := state("EURUSD", tc.dir, 1.0900, tc.old, nil)
			next := state("EURUSD", tc.dir, 1.0900, tc.cur, nil)
			changes := ClassifyChanges(prev, next)
			require.Len(t, changes, 1)
			assert.Equal(t, tc.want, changes[0].Kind)
		})
	}
}

func TestClassifyTargetChanges(t *testing.T) {
	f := domain.FloatPtr
	cases := []struct {
		name     string
		dir      domain.PositionType
		old, cur *float64
		want     ChangeKind
	}{
		{"extended buy", domain.PositionTypeBuy, f(1.1000), f(1.1050), ChangeTPExtended},
		{"reduced buy", domain.PositionTypeBuy, f(1.1000), f(1.0980), ChangeTPReduced},
		{"extended sell", domain.PositionTypeSell, f(1.0800), f(1.0750), ChangeTPExtended},
		{"added", domain.PositionTypeSell, nil, f(1.0800), ChangeTPAdded},
		{"removed", domain.PositionTypeSell, f(1.0800), nil, ChangeTPRemoved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := state("EURUSD", tc.dir, 1.0900, nil, tc.old)
			next := state("EURUSD", tc.dir, 1.0900, nil, tc.cur)
			changes := ClassifyChanges(prev, next)
			require.Len(t, changes, 1)
			assert.Equal(t, LevelTakeProfit, changes[0].Level)
			assert.Equal(t, tc.want, changes[0].Kind)
		})
	}
}

func TestClassifyJPYPipSize(t *testing.T) {
	prev := state("USDJPY", domain.PositionTypeBuy, 150.00, domain.FloatPtr(149.50), nil)
	next := state("USDJPY", domain.PositionTypeBuy, 150.00, domain.FloatPtr(150.30), nil)
	next.CurrentPrice = 150.60
	changes := ClassifyChanges(prev, next)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeTrailing, changes[0].Kind)
	assert.InDelta(t, 30, changes[0].ProfitLocked, 0.1)
	assert.False(t, changes[0].PastPrice)
}

func TestClassifyStopThroughCurrentPrice(t *testing.T) {
	f := domain.FloatPtr
	cases := []struct {
		name    string
		dir     domain.PositionType
		current float64
		stop    float64
		want    ChangeKind
		past    bool
	}{
		{"buy trailing below price", domain.PositionTypeBuy, 1.1000, 1.0950, ChangeTrailing, false},
		{"buy stop above price", domain.PositionTypeBuy, 1.0950, 1.0960, ChangeTrailing, true},
		{"buy tightening below price", domain.PositionTypeBuy, 1.0870, 1.0860, ChangeTightening, false},
		{"buy tightening above price", domain.PositionTypeBuy, 1.0870, 1.0880, ChangeTightening, true},
		{"sell trailing above price", domain.PositionTypeSell, 1.0800, 1.0850, ChangeTrailing, false},
		{"sell stop below price", domain.PositionTypeSell, 1.0860, 1.0850, ChangeTrailing, true},
		{"stop at price", domain.PositionTypeBuy, 1.0950, 1.0950, ChangeTrailing, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := state("EURUSD", tc.dir, 1.0900, nil, nil)
			if tc.dir == domain.PositionTypeBuy {
				prev.StopLoss = f(1.0850)
			} else {
				prev.StopLoss = f(1.0950)
			}
			next := prev
			next.CurrentPrice = tc.current
			next.StopLoss = f(tc.stop)

			changes := ClassifyChanges(prev, next)
			require.Len(t, changes, 1)
			assert.Equal(t, tc.want, changes[0].Kind)
			assert.Equal(t, tc.past, changes[0].PastPrice)
		})
	}
}

func TestClassifyStopWithoutQuote(t *testing.T) {
	prev := state("EURUSD", domain.PositionTypeBuy, 1.0900, domain.FloatPtr(1.0850), nil)
	next := prev
	next.CurrentPrice = 0
	next.StopLoss = domain.FloatPtr(1.0950)

	changes := ClassifyChanges(prev, next)
	require.Len(t, changes, 1)
	assert.False(t, changes[0].PastPrice)
}

func TestClassifyNoChange(t *testing.T) {
	s := state("EURUSD", domain.PositionTypeBuy, 1.0900, domain.FloatPtr(1.0850), domain.FloatPtr(1.1000))
	assert.Nil(t, ClassifyChanges(s, s))
}

package streaming

import (
	"math"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/forex"
)

// ChangeKind labels a stop-loss or take-profit modification for display.
type ChangeKind string

const (
	ChangeBreakeven  ChangeKind = "breakeven"
	ChangeTrailing   ChangeKind = "trailing"
	ChangeTightening ChangeKind = "tightening"
	ChangeWidening   ChangeKind = "widening"
	ChangeSLAdded    ChangeKind = "sl_added"
	ChangeSLRemoved  ChangeKind = "sl_removed"
	ChangeTPExtended ChangeKind = "tp_extended"
	ChangeTPReduced  ChangeKind = "tp_reduced"
	ChangeTPAdded    ChangeKind = "tp_added"
	ChangeTPRemoved  ChangeKind = "tp_removed"
)

// Level names the price level that changed.
type Level string

const (
	LevelStopLoss   Level = "stop_loss"
	LevelTakeProfit Level = "take_profit"
)

// Change describes one modified level.
type Change struct {
	Level Level
	Kind  ChangeKind
	Old   *float64
	New   *float64
	// ProfitLocked is the pips guaranteed by a stop beyond entry.
	ProfitLocked float64
	// PastPrice marks a stop moved through the current market price; the
	// terminal will close the position on the next tick.
	PastPrice bool
}

// breakevenTolerancePips is how close to entry a stop must be to count as
// breakeven.
const breakevenTolerancePips = 1.0

// ClassifyChanges compares two states of the same position and describes
// each stop-loss or take-profit change. It returns nil when neither level
// changed.
func ClassifyChanges(prev, next domain.PositionState) []Change {
	var changes []Change
	if !domain.FloatEqual(prev.StopLoss, next.StopLoss) {
		changes = append(changes, classifyStop(next, prev.StopLoss, next.StopLoss))
	}
	if !domain.FloatEqual(prev.TakeProfit, next.TakeProfit) {
		changes = append(changes, classifyTarget(next, prev.TakeProfit, next.TakeProfit))
	}
	return changes
}

func classifyStop(st domain.PositionState, old, cur *float64) Change {
	c := Change{Level: LevelStopLoss, Old: old, New: cur}
	switch {
	case old == nil:
		c.Kind = ChangeSLAdded
	case cur == nil:
		c.Kind = ChangeSLRemoved
	}
	if cur == nil {
		return c
	}

	entry := st.OpenPrice
	beyondEntry := forex.DirectionalPips(st.Symbol, st.Type, entry, *cur)
	if entry > 0 && beyondEntry > breakevenTolerancePips {
		c.ProfitLocked = beyondEntry
	}
	if st.CurrentPrice > 0 && forex.DirectionalPips(st.Symbol, st.Type, *cur, st.CurrentPrice) < 0 {
		c.PastPrice = true
	}
	if c.Kind != "" {
		return c
	}

	switch {
	case entry > 0 && math.Abs(beyondEntry) <= breakevenTolerancePips:
		c.Kind = ChangeBreakeven
	case entry > 0 && beyondEntry > 0:
		c.Kind = ChangeTrailing
	case forex.DirectionalPips(st.Symbol, st.Type, *old, *cur) > 0:
		// Moved toward price without passing entry.
		c.Kind = ChangeTightening
	default:
		c.Kind = ChangeWidening
	}
	return c
}

func classifyTarget(st domain.PositionState, old, cur *float64) Change {
	c := Change{Level: LevelTakeProfit, Old: old, New: cur}
	switch {
	case old == nil:
		c.Kind = ChangeTPAdded
	case cur == nil:
		c.Kind = ChangeTPRemoved
	case forex.DirectionalPips(st.Symbol, st.Type, *old, *cur) > 0:
		c.Kind = ChangeTPExtended
	default:
		c.Kind = ChangeTPReduced
	}
	return c
}

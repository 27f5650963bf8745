package domain

import "time"

// PositionType is the broker-side direction of an open position.
type PositionType string

const (
	PositionTypeBuy  PositionType = "BUY"
	PositionTypeSell PositionType = "SELL"
)

// Position is the canonical form of a live broker position. It is produced
// only by the terminal normalization boundary; business logic never looks at
// raw broker payloads.
type Position struct {
	ID           string
	Symbol       string
	Type         PositionType
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     *float64
	TakeProfit   *float64
	Profit       float64
	Commission   float64
	Swap         float64
	OpenTime     time.Time
}

// PositionState is the last observed state of a tracked open position.
type PositionState struct {
	Symbol       string
	Type         PositionType
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     *float64
	TakeProfit   *float64
	Profit       float64
	OpenTime     time.Time
	UpdatedAt    time.Time
}

// StateFromPosition builds a full PositionState snapshot from a live position.
func StateFromPosition(p Position) PositionState {
	return PositionState{
		Symbol:       p.Symbol,
		Type:         p.Type,
		Volume:       p.Volume,
		OpenPrice:    p.OpenPrice,
		CurrentPrice: p.CurrentPrice,
		StopLoss:     cloneFloat(p.StopLoss),
		TakeProfit:   cloneFloat(p.TakeProfit),
		Profit:       p.Profit,
		OpenTime:     p.OpenTime,
		UpdatedAt:    time.Now().UTC(),
	}
}

// Deal is a historical broker deal, used to reconcile the close of a position.
type Deal struct {
	ID         string
	PositionID string
	Symbol     string
	Type       string
	Entry      string // DEAL_ENTRY_IN, DEAL_ENTRY_OUT, ...
	Volume     float64
	Price      float64
	Profit     float64
	Commission float64
	Swap       float64
	Time       time.Time
}

// IsClose reports whether the deal closes (fully or by reversal) a position.
func (d Deal) IsClose() bool {
	switch d.Entry {
	case "DEAL_ENTRY_OUT", "DEAL_ENTRY_OUT_BY", "DEAL_ENTRY_INOUT":
		return true
	}
	return false
}

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 {
	return &v
}

// FloatEqual compares two optional prices. A nil value is distinct from zero.
func FloatEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

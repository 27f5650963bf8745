package domain

import "time"

// SignalStatus tracks the lifecycle of a published trading signal.
type SignalStatus string

const (
	SignalStatusActive SignalStatus = "active"
	SignalStatusClosed SignalStatus = "closed"
)

// Signal is a trading signal synthesized from a detected broker position.
type Signal struct {
	ID           string
	PositionID   string
	Pair         string
	Direction    PositionType
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Status       SignalStatus
	Source       string
	ResultPips   *float64
	ClosePrice   *float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
}

// SignalUpdate carries the mutable fields of a signal. Nil fields are left
// untouched.
type SignalUpdate struct {
	CurrentPrice *float64
	StopLoss     *float64
	TakeProfit   *float64
}

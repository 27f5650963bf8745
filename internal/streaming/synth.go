package streaming

import (
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/forex"
)

// signalSource tags signals synthesized from broker positions.
const signalSource = "mt5"

// SynthesizeSignal builds the signal for a newly detected position. Broker
// stop-loss and take-profit win; missing levels follow policy.
func SynthesizeSignal(p domain.Position, policy forex.LevelPolicy, now time.Time) domain.Signal {
	stop, target := policy.Levels(p.Symbol, p.Type, p.OpenPrice, p.StopLoss, p.TakeProfit)
	current := p.CurrentPrice
	if current == 0 {
		current = p.OpenPrice
	}
	return domain.Signal{
		PositionID:   p.ID,
		Pair:         p.Symbol,
		Direction:    p.Type,
		EntryPrice:   p.OpenPrice,
		CurrentPrice: current,
		StopLoss:     stop,
		TakeProfit:   target,
		Status:       domain.SignalStatusActive,
		Source:       signalSource,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

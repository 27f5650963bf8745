package forex

import "github.com/alanyoungcy/fxsignalbot/internal/domain"

// LevelPolicy controls how stop-loss and take-profit are synthesized when the
// broker reports none.
type LevelPolicy struct {
	Enabled      bool
	StopLossPips float64
	RewardRatio  float64
}

// DefaultLevelPolicy is a 50 pip stop with a 2:1 reward:risk target.
func DefaultLevelPolicy() LevelPolicy {
	return LevelPolicy{Enabled: true, StopLossPips: 50, RewardRatio: 2}
}

// Levels returns the stop-loss and take-profit for a signal. Broker-provided
// values win; missing ones are synthesized from the entry price when the
// policy is enabled, and left at zero otherwise.
func (p LevelPolicy) Levels(symbol string, dir domain.PositionType, entry float64, sl, tp *float64) (float64, float64) {
	var stop, target float64
	if sl != nil && *sl > 0 {
		stop = *sl
	}
	if tp != nil && *tp > 0 {
		target = *tp
	}
	if !p.Enabled || entry <= 0 {
		return stop, target
	}

	pip := PipSize(symbol)
	risk := p.StopLossPips * pip
	if stop == 0 {
		if dir == domain.PositionTypeSell {
			stop = entry + risk
		} else {
			stop = entry - risk
		}
	} else {
		if d := entry - stop; d != 0 {
			if d < 0 {
				d = -d
			}
			risk = d
		}
	}
	if target == 0 {
		reward := risk * p.RewardRatio
		if dir == domain.PositionTypeSell {
			target = entry - reward
		} else {
			target = entry + reward
		}
	}
	return stop, target
}

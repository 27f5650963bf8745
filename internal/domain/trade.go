package domain

import "time"

// TradeHistory is the archived record of a closed position.
type TradeHistory struct {
	ID         int64          `json:"id"`
	PositionID string         `json:"position_id"`
	SignalID   string         `json:"signal_id"`
	AccountID  string         `json:"account_id"`
	Pair       string         `json:"pair"`
	Direction  PositionType   `json:"direction"`
	EntryPrice float64        `json:"entry_price"`
	ClosePrice float64        `json:"close_price"`
	StopLoss   *float64       `json:"stop_loss,omitempty"`
	TakeProfit *float64       `json:"take_profit,omitempty"`
	Volume     float64        `json:"volume"`
	Profit     float64        `json:"profit"`
	Commission float64        `json:"commission"`
	Swap       float64        `json:"swap"`
	Pips       float64        `json:"pips"`
	OpenTime   time.Time      `json:"open_time"`
	CloseTime  time.Time      `json:"close_time"`
	Raw        map[string]any `json:"raw,omitempty"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// CloseData is the best available description of how a position closed:
// either the broker's close deal or the last live snapshot.
type CloseData struct {
	PositionID  string
	Symbol      string
	Type        PositionType
	Volume      float64
	OpenPrice   float64
	ClosePrice  float64
	StopLoss    *float64
	TakeProfit  *float64
	Profit      float64
	Commission  float64
	Swap        float64
	OpenTime    time.Time
	CloseTime   time.Time
	FromHistory bool
}

// ClosedTrade is the request handed to the trade history archiver.
type ClosedTrade struct {
	PositionID string
	AccountID  string
	Signal     Signal
	Close      CloseData
}

package terminal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// Account deployment and broker connection states reported by the API.
const (
	StateDeployed   = "DEPLOYED"
	StateDeploying  = "DEPLOYING"
	StateUndeployed = "UNDEPLOYED"

	ConnectionConnected = "CONNECTED"
)

// AccountInfo describes a trading account registered with the terminal API.
type AccountInfo struct {
	ID               string `json:"_id"`
	Name             string `json:"name"`
	Login            string `json:"login"`
	Server           string `json:"server"`
	Region           string `json:"region"`
	State            string `json:"state"`
	ConnectionStatus string `json:"connectionStatus"`
}

// Deployed reports whether the account's terminal is running.
func (a AccountInfo) Deployed() bool {
	return a.State == StateDeployed
}

// Connected reports whether the terminal is logged in at the broker.
func (a AccountInfo) Connected() bool {
	return a.ConnectionStatus == ConnectionConnected
}

// flexID accepts ids encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("terminal: id %s: %w", b, err)
	}
	*f = flexID(n.String())
	return nil
}

// RawPosition is a position as the terminal API reports it. Different API
// versions identify positions by ticket, id or positionId.
type RawPosition struct {
	Ticket       flexID    `json:"ticket"`
	ID           flexID    `json:"id"`
	PositionID   flexID    `json:"positionId"`
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"openPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	StopLoss     *float64  `json:"stopLoss"`
	TakeProfit   *float64  `json:"takeProfit"`
	Profit       float64   `json:"profit"`
	Commission   float64   `json:"commission"`
	Swap         float64   `json:"swap"`
	Time         time.Time `json:"time"`
}

// NormalizePosition converts a raw payload into the canonical domain form.
// It is the only place that knows about the id fallback chain and the
// broker's type names. A zero stop-loss or take-profit means "not set" at
// the broker and becomes nil.
func NormalizePosition(raw RawPosition) (domain.Position, error) {
	id := firstNonEmpty(string(raw.Ticket), string(raw.ID), string(raw.PositionID))
	if id == "" {
		return domain.Position{}, fmt.Errorf("terminal: position without id (symbol %q)", raw.Symbol)
	}
	if raw.Symbol == "" {
		return domain.Position{}, fmt.Errorf("terminal: position %s without symbol", id)
	}
	typ, err := normalizeType(raw.Type)
	if err != nil {
		return domain.Position{}, fmt.Errorf("terminal: position %s: %w", id, err)
	}
	return domain.Position{
		ID:           id,
		Symbol:       raw.Symbol,
		Type:         typ,
		Volume:       raw.Volume,
		OpenPrice:    raw.OpenPrice,
		CurrentPrice: raw.CurrentPrice,
		StopLoss:     nonZero(raw.StopLoss),
		TakeProfit:   nonZero(raw.TakeProfit),
		Profit:       raw.Profit,
		Commission:   raw.Commission,
		Swap:         raw.Swap,
		OpenTime:     raw.Time,
	}, nil
}

// NormalizePositions converts a batch, returning the positions that could be
// normalized and one error per payload that could not.
func NormalizePositions(raws []RawPosition) ([]domain.Position, []error) {
	out := make([]domain.Position, 0, len(raws))
	var errs []error
	for _, r := range raws {
		p, err := NormalizePosition(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

// RawDeal is a history deal as the terminal API reports it.
type RawDeal struct {
	ID         flexID    `json:"id"`
	PositionID flexID    `json:"positionId"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	EntryType  string    `json:"entryType"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Time       time.Time `json:"time"`
}

// NormalizeDeal converts a raw deal into the domain form.
func NormalizeDeal(raw RawDeal) domain.Deal {
	return domain.Deal{
		ID:         string(raw.ID),
		PositionID: string(raw.PositionID),
		Symbol:     raw.Symbol,
		Type:       raw.Type,
		Entry:      raw.EntryType,
		Volume:     raw.Volume,
		Price:      raw.Price,
		Profit:     raw.Profit,
		Commission: raw.Commission,
		Swap:       raw.Swap,
		Time:       raw.Time,
	}
}

// RemovedIDs normalizes a list of removed position ids.
func RemovedIDs(ids []flexID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, string(id))
		}
	}
	return out
}

func normalizeType(t string) (domain.PositionType, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(t)), "POSITION_TYPE_") {
	case "BUY", "0":
		return domain.PositionTypeBuy, nil
	case "SELL", "1":
		return domain.PositionTypeSell, nil
	}
	return "", fmt.Errorf("unknown position type %q", t)
}

func nonZero(v *float64) *float64 {
	if v == nil || *v == 0 {
		return nil
	}
	c := *v
	return &c
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" && v != "0" {
			return v
		}
	}
	return ""
}

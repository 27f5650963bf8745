package terminal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

func decodeRaw(t *testing.T, payload string) RawPosition {
	t.Helper()
	var raw RawPosition
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return raw
}

func TestNormalizePositionIDFallback(t *testing.T) {
	cases := map[string]string{
		`{"ticket": 555, "symbol": "EURUSD", "type": "POSITION_TYPE_BUY"}`:              "555",
		`{"id": "777", "symbol": "EURUSD", "type": "POSITION_TYPE_SELL"}`:               "777",
		`{"positionId": 12345678901, "symbol": "EURUSD", "type": "BUY"}`:                "12345678901",
		`{"ticket": 0, "id": "", "positionId": "42", "symbol": "EURUSD", "type": "1"}`: "42",
	}
	for payload, want := range cases {
		p, err := NormalizePosition(decodeRaw(t, payload))
		require.NoError(t, err, payload)
		assert.Equal(t, want, p.ID, payload)
	}
}

func TestNormalizePositionFields(t *testing.T) {
	p, err := NormalizePosition(decodeRaw(t, `{
		"id": "555", "symbol": "EURUSD", "type": "POSITION_TYPE_SELL",
		"volume": 0.5, "openPrice": 1.09, "currentPrice": 1.085,
		"stopLoss": 0, "takeProfit": 1.08, "profit": 25.5,
		"time": "2024-03-01T10:00:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, domain.PositionTypeSell, p.Type)
	assert.Nil(t, p.StopLoss, "zero stop loss means unset")
	require.NotNil(t, p.TakeProfit)
	assert.Equal(t, 1.08, *p.TakeProfit)
	assert.Equal(t, 0.5, p.Volume)
	assert.Equal(t, 2024, p.OpenTime.Year())
}

func TestNormalizePositionZeroLevelsAreUnset(t *testing.T) {
	cases := []struct {
		name   string
		levels string
		sl, tp *float64
	}{
		{"both zero", `"stopLoss": 0, "takeProfit": 0`, nil, nil},
		{"both null", `"stopLoss": null, "takeProfit": null`, nil, nil},
		{"both absent", ``, nil, nil},
		{"stop only", `"stopLoss": 1.085, "takeProfit": 0`, domain.FloatPtr(1.085), nil},
		{"target only", `"stopLoss": 0.0, "takeProfit": 1.1`, nil, domain.FloatPtr(1.1)},
		{"both set", `"stopLoss": 1.085, "takeProfit": 1.1`, domain.FloatPtr(1.085), domain.FloatPtr(1.1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := `{"id": "1", "symbol": "EURUSD", "type": "BUY"`
			if tc.levels != "" {
				payload += ", " + tc.levels
			}
			p, err := NormalizePosition(decodeRaw(t, payload+"}"))
			require.NoError(t, err)
			assert.Equal(t, tc.sl, p.StopLoss)
			assert.Equal(t, tc.tp, p.TakeProfit)
		})
	}
}

func TestNormalizePositionCopiesLevels(t *testing.T) {
	raw := decodeRaw(t, `{"id": "1", "symbol": "EURUSD", "type": "BUY", "stopLoss": 1.085}`)
	p, err := NormalizePosition(raw)
	require.NoError(t, err)

	*raw.StopLoss = 1.07
	require.NotNil(t, p.StopLoss)
	assert.Equal(t, 1.085, *p.StopLoss)
}

func TestNormalizePositionRejectsBadPayloads(t *testing.T) {
	_, err := NormalizePosition(decodeRaw(t, `{"symbol": "EURUSD", "type": "BUY"}`))
	assert.Error(t, err)

	_, err = NormalizePosition(decodeRaw(t, `{"id": "1", "type": "BUY"}`))
	assert.Error(t, err)

	_, err = NormalizePosition(decodeRaw(t, `{"id": "1", "symbol": "EURUSD", "type": "POSITION_TYPE_BUY_LIMIT"}`))
	assert.Error(t, err)
}

func TestNormalizePositionsKeepsGoodOnes(t *testing.T) {
	var raws []RawPosition
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id": "1", "symbol": "EURUSD", "type": "BUY"},
		{"symbol": "GBPUSD", "type": "BUY"},
		{"id": "3", "symbol": "USDJPY", "type": "SELL"}
	]`), &raws))

	positions, errs := NormalizePositions(raws)
	assert.Len(t, positions, 2)
	assert.Len(t, errs, 1)
}

func TestNormalizeDeal(t *testing.T) {
	var raw RawDeal
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 99, "positionId": 555, "symbol": "EURUSD", "type": "DEAL_TYPE_SELL",
		"entryType": "DEAL_ENTRY_OUT", "price": 1.1, "profit": 50, "commission": -1.2, "swap": -0.3
	}`), &raw))

	d := NormalizeDeal(raw)
	assert.Equal(t, "99", d.ID)
	assert.Equal(t, "555", d.PositionID)
	assert.True(t, d.IsClose())
	assert.Equal(t, -1.2, d.Commission)
}

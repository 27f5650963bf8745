// Package forex holds the small amount of instrument arithmetic the streaming
// engine depends on: pip sizes, pip distances and the closed-trade pips result.
package forex

import (
	"math"
	"strings"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// PipSize returns the price increment of one pip for the given symbol. Broker
// suffixes such as "EURUSD.m" or "XAUUSDc" are ignored.
func PipSize(symbol string) float64 {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(s, "XAU"), strings.HasPrefix(s, "GOLD"):
		return 0.1
	case strings.HasPrefix(s, "XAG"), strings.HasPrefix(s, "SILVER"):
		return 0.01
	case strings.Contains(s, "JPY"):
		return 0.01
	case isIndexOrCrypto(s):
		return 1.0
	default:
		return 0.0001
	}
}

func isIndexOrCrypto(s string) bool {
	for _, p := range []string{"US30", "US500", "NAS100", "SPX", "GER", "DE40", "UK100", "JP225", "BTC", "ETH"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Pips converts a raw price distance to pips for the symbol.
func Pips(symbol string, distance float64) float64 {
	return round1(distance / PipSize(symbol))
}

// DirectionalPips returns the pips gained moving from -> to in the direction
// of the trade: positive when the move favours the position.
func DirectionalPips(symbol string, dir domain.PositionType, from, to float64) float64 {
	d := to - from
	if dir == domain.PositionTypeSell {
		d = -d
	}
	return Pips(symbol, d)
}

// ResultPips computes the pips result of a closed trade. When both prices are
// known the result is derived from them; otherwise profit/10 is used as a rough
// estimate. Whenever profit is non-zero the sign of the result follows the sign
// of the realized profit; a non-zero profit never rounds to zero pips.
func ResultPips(symbol string, dir domain.PositionType, entry, closePrice, profit float64) float64 {
	var pips float64
	if entry > 0 && closePrice > 0 {
		pips = DirectionalPips(symbol, dir, entry, closePrice)
	} else {
		pips = round1(profit / 10)
	}

	switch {
	case profit > 0:
		pips = math.Max(math.Abs(pips), minResultPips)
	case profit < 0:
		pips = -math.Max(math.Abs(pips), minResultPips)
	}
	return pips
}

// minResultPips is the smallest reported magnitude of a non-zero result.
const minResultPips = 0.1

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

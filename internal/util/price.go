// Package util provides price helpers for exchange tick grids.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick rounds x to the nearest multiple of tick, ties away from zero.
// For example, with tick=0.2 an index option quoted at 31.3 becomes 31.4.
func RoundToTick(x, tick float64) float64 {
	return onGrid(x, tick, decimal.Decimal.Round)
}

// FloorToTick rounds x down to a multiple of tick.
func FloorToTick(x, tick float64) float64 {
	return onGrid(x, tick, func(d decimal.Decimal, _ int32) decimal.Decimal { return d.Floor() })
}

// CeilToTick rounds x up to a multiple of tick.
func CeilToTick(x, tick float64) float64 {
	return onGrid(x, tick, func(d decimal.Decimal, _ int32) decimal.Decimal { return d.Ceil() })
}

// onGrid scales x into tick units, applies round and scales back. Decimal
// arithmetic keeps values such as 1.235 from landing on the wrong side of a
// tie. A zero tick, NaN or infinite input returns x unchanged; a negative
// tick is treated by its absolute value.
func onGrid(x, tick float64, round func(decimal.Decimal, int32) decimal.Decimal) float64 {
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(tick) || math.IsInf(tick, 0) {
		return x
	}
	t := decimal.NewFromFloat(math.Abs(tick))
	units := round(decimal.NewFromFloat(x).Div(t), 0)
	return units.Mul(t).InexactFloat64()
}

// ValidPrice reports whether p can be sent with an order.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

package symbolinfo

import (
	"math"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is used when the tick size is unknown or not positive
const DefaultPrecision int32 = 2

// PrecisionFromTickSize returns the number of decimals implied by a tick size:
// round(-log10(tick)), never below zero.
func PrecisionFromTickSize(tick decimal.Decimal) int32 {
	if !tick.IsPositive() {
		return DefaultPrecision
	}

	f, _ := tick.Float64()
	precision := int32(math.Round(-math.Log10(f)))
	if precision < 0 {
		return 0
	}
	return precision
}

// FormatPrice renders price with the given number of decimals
func FormatPrice(price decimal.Decimal, precision int32) string {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return price.StringFixed(precision)
}

// FormatQuantity renders quantity with the given number of decimals
func FormatQuantity(qty decimal.Decimal, precision int32) string {
	if precision < 0 {
		precision = 0
	}
	return qty.StringFixed(precision)
}

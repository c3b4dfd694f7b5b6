package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round2 rounds half away from zero to cents using decimal arithmetic so
// that values like 1.005 round the way a person would expect.
func Round2(v float64) float64 {
	return RoundTo(v, 2)
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Money converts a float into a decimal rounded to cents.
func Money(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(2)
}

// ToFloat converts a decimal back into a float rounded to cents.
func ToFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInt limits v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PercentOf returns part/base*100 rounded to 2 decimals, 0 for a zero base.
func PercentOf(part, base float64) float64 {
	if base == 0 {
		return 0
	}
	return Round2(part / base * 100)
}

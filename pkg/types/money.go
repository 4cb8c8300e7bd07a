package types

import "github.com/shopspring/decimal"

// FormatCents renders an amount stored in minor units as a fixed two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ApplyBasisPoints returns amount * bps / 10000 rounded half away from zero.
func ApplyBasisPoints(cents, bps int64) int64 {
	if cents == 0 || bps == 0 {
		return 0
	}
	return decimal.NewFromInt(cents).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(10000)).
		Round(0).
		IntPart()
}

// Package dec centralizes the small set of decimal helpers the trading core
// needs on top of github.com/shopspring/decimal: tick/lot quantization and
// bps arithmetic. Every price, size, fee, and PnL value in the hot path is a
// decimal.Decimal; float64 only appears at the telemetry boundary.
package dec

import "github.com/shopspring/decimal"

var (
	Zero    = decimal.Zero
	Ten     = decimal.NewFromInt(10)
	BpsUnit = decimal.NewFromInt(10000)
)

// Bps converts a basis-point quantity to its fractional form (1 bps = 0.0001).
func Bps(bps decimal.Decimal) decimal.Decimal {
	return bps.Div(BpsUnit)
}

// QuantizeDown rounds v down to the nearest multiple of step (step > 0).
func QuantizeDown(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	units := v.Div(step).Floor()
	return units.Mul(step)
}

// QuantizeUp rounds v up to the nearest multiple of step (step > 0).
func QuantizeUp(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	units := v.Div(step).Ceil()
	return units.Mul(step)
}

// SmallestMultipleSatisfying returns the smallest multiple of lotSize that is
// >= floor and whose notional at price is >= minNotional. It never returns a
// value below lotSize.
func SmallestMultipleSatisfying(floor, lotSize, price, minNotional decimal.Decimal) decimal.Decimal {
	size := QuantizeUp(floor, lotSize)
	if size.LessThan(lotSize) {
		size = lotSize
	}
	if price.Sign() <= 0 || minNotional.Sign() <= 0 {
		return size
	}
	for size.Mul(price).LessThan(minNotional) {
		size = size.Add(lotSize)
	}
	return size
}

// Mid returns the arithmetic mean of bid and ask.
func Mid(bid, ask decimal.Decimal) decimal.Decimal {
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

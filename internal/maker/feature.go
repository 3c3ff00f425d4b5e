// Package maker implements the MakerEngine: the quote-generation core and
// its pluggable adjustment features.
package maker

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/trading"
)

// StateChange is pushed to every feature once per dispatcher step so a
// feature can maintain its own rolling state (mid history, EMAs, counters)
// without reading the StateStore directly.
type StateChange struct {
	Market       string
	Mid          decimal.Decimal
	MidTS        time.Time
	Inventory    decimal.Decimal
	WindowedPnL  decimal.Decimal
	Now          time.Time
}

// FeatureContext is the read-only view a feature's Adjust sees for one
// quote cycle.
type FeatureContext struct {
	Market    string
	Mid       decimal.Decimal
	Inventory decimal.Decimal
	Now       time.Time
}

// FeatureResult is a feature's contribution to the quote cycle. DeltaSpreadBps
// contributions are summed across features; SizeMultiplier contributions are
// multiplied; Gates are unioned.
type FeatureResult struct {
	DeltaSpreadBps decimal.Decimal
	SizeMultiplier decimal.Decimal
	Gates          map[trading.Side]bool
}

func neutralResult() FeatureResult {
	return FeatureResult{DeltaSpreadBps: decimal.Zero, SizeMultiplier: decimal.NewFromInt(1)}
}

// Feature is a pluggable quote adjustment: trend filter, volatility band,
// inventory adjust, PnL guard, regime switcher, or any future addition.
// Enabling or disabling a feature is a configuration list operation; the
// engine holds an ordered slice of these and never branches on feature
// identity.
type Feature interface {
	Name() string
	Enabled() bool
	Update(StateChange)
	Adjust(FeatureContext) FeatureResult
}

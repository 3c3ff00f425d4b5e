package features

import (
	"github.com/shopspring/decimal"

	"hl-market-maker/internal/maker"
	"hl-market-maker/internal/trading"
)

// InventoryConfig mirrors the original source's inventory_adjustments.py
// tiered thresholds, plus an asymmetric-exposure gate threshold.
type InventoryConfig struct {
	Enabled bool

	ThresholdLow  decimal.Decimal
	ThresholdMed  decimal.Decimal
	ThresholdHigh decimal.Decimal

	SpreadBpsLow  decimal.Decimal
	SpreadBpsMed  decimal.Decimal
	SpreadBpsHigh decimal.Decimal

	SizeMultLow  decimal.Decimal
	SizeMultMed  decimal.Decimal
	SizeMultHigh decimal.Decimal

	AsymThreshold decimal.Decimal
}

// Inventory discourages adding to existing exposure: it widens the spread
// and cuts size as |inventory| grows through a tiered threshold ladder, and
// gates the side that would add to exposure once |inventory| exceeds
// AsymThreshold.
type Inventory struct {
	cfg InventoryConfig
	inv decimal.Decimal
}

func NewInventory(cfg InventoryConfig) *Inventory {
	return &Inventory{cfg: cfg}
}

func (i *Inventory) Name() string  { return "inventory" }
func (i *Inventory) Enabled() bool { return i.cfg.Enabled }

func (i *Inventory) Update(sc maker.StateChange) {
	i.inv = sc.Inventory
}

func (i *Inventory) Adjust(ctx maker.FeatureContext) maker.FeatureResult {
	result := maker.FeatureResult{DeltaSpreadBps: decimal.Zero, SizeMultiplier: decimal.NewFromInt(1)}
	if !i.cfg.Enabled {
		return result
	}

	invAbs := ctx.Inventory.Abs()

	switch {
	case invAbs.GreaterThan(i.cfg.ThresholdHigh):
		result.DeltaSpreadBps = i.cfg.SpreadBpsHigh
		result.SizeMultiplier = i.cfg.SizeMultHigh
	case invAbs.GreaterThan(i.cfg.ThresholdMed):
		result.DeltaSpreadBps = i.cfg.SpreadBpsMed
		result.SizeMultiplier = i.cfg.SizeMultMed
	case invAbs.GreaterThan(i.cfg.ThresholdLow):
		result.DeltaSpreadBps = i.cfg.SpreadBpsLow
		result.SizeMultiplier = i.cfg.SizeMultLow
	}
	if result.SizeMultiplier.IsZero() {
		result.SizeMultiplier = decimal.NewFromInt(1)
	}

	if i.cfg.AsymThreshold.Sign() > 0 && invAbs.GreaterThan(i.cfg.AsymThreshold) {
		// Long inventory grows by buying more (bid); short grows by
		// selling more (ask). Gate whichever side would add to it.
		gated := trading.SideBid
		if ctx.Inventory.Sign() < 0 {
			gated = trading.SideAsk
		}
		result.Gates = map[trading.Side]bool{gated: true}
	}

	return result
}

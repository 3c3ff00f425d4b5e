package features

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/maker"
	"hl-market-maker/internal/trading"
)

// VolatilityConfig mirrors the original source's volatility_adjustments.py
// config fields, plus the pause/resume thresholds maker_engine.py layered
// on top of it.
type VolatilityConfig struct {
	Enabled bool

	LowBps          decimal.Decimal
	HighBps         decimal.Decimal
	MinSpreadBps    decimal.Decimal
	MaxSpreadBps    decimal.Decimal
	EMAHalflife     time.Duration

	PauseThresholdBps        decimal.Decimal
	ResumeThresholdBps       decimal.Decimal
	ResumeInventoryRatio     decimal.Decimal
	InventorySoftCap         decimal.Decimal
}

// Volatility tracks an EMA of absolute mid-change and widens the spread in
// chop, pausing both sides entirely in extreme moves.
type Volatility struct {
	cfg VolatilityConfig

	emaBps  decimal.Decimal
	lastMid decimal.Decimal
	lastTS  time.Time
	hasLast bool
	paused  bool
}

func NewVolatility(cfg VolatilityConfig) *Volatility {
	return &Volatility{cfg: cfg}
}

func (v *Volatility) Name() string  { return "volatility" }
func (v *Volatility) Enabled() bool { return v.cfg.Enabled }

func (v *Volatility) Update(sc maker.StateChange) {
	if !v.cfg.Enabled {
		return
	}
	if !v.hasLast {
		v.lastMid = sc.Mid
		v.lastTS = sc.Now
		v.hasLast = true
		return
	}
	dt := sc.Now.Sub(v.lastTS).Seconds()
	if dt <= 0 {
		dt = 1e-6
	}
	denom := v.lastMid
	if denom.Sign() <= 0 {
		denom = decimal.NewFromFloat(1e-9)
	}
	changeBps := sc.Mid.Sub(v.lastMid).Abs().Div(denom).Mul(decimal.NewFromInt(10000))

	halflife := v.cfg.EMAHalflife.Seconds()
	if halflife <= 0 {
		halflife = 30
	}
	alpha := 1 - math.Exp(-math.Ln2*dt/halflife)
	prev := v.emaBps
	if prev.IsZero() {
		prev = changeBps
	}
	v.emaBps = prev.Add(decimal.NewFromFloat(alpha).Mul(changeBps.Sub(prev)))
	v.lastMid = sc.Mid
	v.lastTS = sc.Now
}

func (v *Volatility) Adjust(ctx maker.FeatureContext) maker.FeatureResult {
	result := maker.FeatureResult{DeltaSpreadBps: decimal.Zero, SizeMultiplier: decimal.NewFromInt(1)}
	if !v.cfg.Enabled {
		return result
	}

	span := v.cfg.HighBps.Sub(v.cfg.LowBps)
	factor := decimal.Zero
	if span.Sign() > 0 {
		factor = v.emaBps.Sub(v.cfg.LowBps).Div(span)
		if factor.Sign() < 0 {
			factor = decimal.Zero
		}
		if factor.GreaterThan(decimal.NewFromInt(1)) {
			factor = decimal.NewFromInt(1)
		}
	}
	spreadSpan := v.cfg.MaxSpreadBps.Sub(v.cfg.MinSpreadBps)
	scaledSpread := v.cfg.MinSpreadBps.Add(spreadSpan.Mul(factor))
	// Reported as a delta over whatever base spread the engine already
	// applies; callers treat this feature's base as additive headroom.
	result.DeltaSpreadBps = scaledSpread.Sub(v.cfg.MinSpreadBps)

	if v.cfg.PauseThresholdBps.Sign() > 0 && v.emaBps.GreaterThan(v.cfg.PauseThresholdBps) {
		v.paused = true
	}
	if v.paused {
		canResume := v.cfg.ResumeThresholdBps.Sign() > 0 && v.emaBps.LessThan(v.cfg.ResumeThresholdBps)
		if canResume {
			invRatio := decimal.Zero
			if v.cfg.InventorySoftCap.Sign() > 0 {
				invRatio = ctx.Inventory.Abs().Div(v.cfg.InventorySoftCap)
			}
			if v.cfg.ResumeInventoryRatio.Sign() == 0 {
				v.cfg.ResumeInventoryRatio = decimal.NewFromFloat(0.25)
			}
			if invRatio.LessThanOrEqual(v.cfg.ResumeInventoryRatio) {
				v.paused = false
			}
		}
	}
	if v.paused {
		result.Gates = map[trading.Side]bool{trading.SideBid: true, trading.SideAsk: true}
	}
	return result
}

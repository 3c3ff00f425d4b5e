// Package features holds the MakerEngine's pluggable quote adjustments:
// trend filter, volatility band, inventory adjust, PnL guard, and regime
// switcher. Each is grounded on the matching module under the original
// source's modules/features package, ported from a float/deque
// implementation to decimal.Decimal and a fixed-capacity ring buffer.
package features

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/maker"
	"hl-market-maker/internal/trading"
)

// TrendConfig mirrors the original source's trend_filter.py config fields.
type TrendConfig struct {
	Enabled              bool
	LookbackSeconds      float64
	ThresholdBps         decimal.Decimal
	DownThresholdBps     decimal.Decimal
	ResumeThresholdBps   decimal.Decimal
	ExtraSpreadBps       decimal.Decimal
	DownExtraSpreadBps   decimal.Decimal
	DownBiasAsk          bool // true: downtrend biases toward ask-only; false: bid-only
	DownCooldownSeconds  float64
	InventorySoftCap     decimal.Decimal
	InventorySoftCapRatio decimal.Decimal
}

type trendSample struct {
	ts  time.Time
	mid decimal.Decimal
}

type trendState string

const (
	trendNeutral trendState = "neutral"
	trendAskOnly trendState = "ask_only"
	trendBidOnly trendState = "bid_only"
)

type trendSignal string

const (
	signalNeutral trendSignal = "neutral"
	signalUp      trendSignal = "up"
	signalDown    trendSignal = "down"
)

// Trend detects sustained price moves over a lookback window and biases
// quoting away from the side the price is running toward.
type Trend struct {
	cfg TrendConfig

	samples []trendSample
	state   trendState
	signal  trendSignal

	downCooldownUntil time.Time
	inventory         decimal.Decimal
}

func NewTrend(cfg TrendConfig) *Trend {
	return &Trend{cfg: cfg, state: trendNeutral, signal: signalNeutral}
}

func (t *Trend) Name() string   { return "trend" }
func (t *Trend) Enabled() bool  { return t.cfg.Enabled }

// Update appends the latest mid and evicts samples outside the lookback
// window. Also records the latest inventory for the inventory-aware bias
// override.
func (t *Trend) Update(sc maker.StateChange) {
	if !t.cfg.Enabled {
		return
	}
	t.inventory = sc.Inventory
	t.samples = append(t.samples, trendSample{ts: sc.Now, mid: sc.Mid})
	cutoff := sc.Now.Add(-time.Duration(t.cfg.LookbackSeconds * float64(time.Second)))
	i := 0
	for i < len(t.samples) && t.samples[i].ts.Before(cutoff) {
		i++
	}
	t.samples = t.samples[i:]
}

func (t *Trend) Adjust(ctx maker.FeatureContext) maker.FeatureResult {
	result := maker.FeatureResult{DeltaSpreadBps: decimal.Zero, SizeMultiplier: decimal.NewFromInt(1)}
	if !t.cfg.Enabled || len(t.samples) < 2 {
		t.state = trendNeutral
		return result
	}

	oldest := t.samples[0].mid
	deltaBps := decimal.Zero
	if oldest.Sign() > 0 {
		deltaBps = ctx.Mid.Sub(oldest).Div(oldest).Mul(decimal.NewFromInt(10000))
	}

	hysteresis := t.cfg.ResumeThresholdBps

	switch t.state {
	case trendAskOnly:
		if deltaBps.LessThan(hysteresis) {
			t.state = trendNeutral
		}
	case trendBidOnly:
		if deltaBps.GreaterThan(hysteresis.Neg()) {
			t.state = trendNeutral
		}
	}

	if t.state == trendNeutral {
		switch {
		case deltaBps.GreaterThanOrEqual(t.cfg.ThresholdBps):
			t.state = trendAskOnly
			t.signal = signalUp
		case deltaBps.LessThanOrEqual(t.cfg.DownThresholdBps.Neg()):
			if t.cfg.DownBiasAsk {
				t.state = trendAskOnly
			} else {
				t.state = trendBidOnly
			}
			t.signal = signalDown
			if t.cfg.DownCooldownSeconds > 0 {
				until := ctx.Now.Add(time.Duration(t.cfg.DownCooldownSeconds * float64(time.Second)))
				if until.After(t.downCooldownUntil) {
					t.downCooldownUntil = until
				}
			}
		default:
			t.signal = signalNeutral
		}
	} else if t.state == trendAskOnly && t.signal == signalDown && deltaBps.GreaterThan(hysteresis.Neg()) {
		t.signal = signalNeutral
	} else if t.state == trendBidOnly && t.signal == signalUp && deltaBps.LessThan(hysteresis) {
		t.signal = signalNeutral
	}
	if t.state == trendNeutral {
		t.signal = signalNeutral
	}

	cooldownActive := t.cfg.DownCooldownSeconds > 0 && ctx.Now.Before(t.downCooldownUntil)

	invAbs := t.inventory.Abs()
	invLimit := decimal.NewFromFloat(1e-9)
	ratioLimit := t.cfg.InventorySoftCap.Mul(t.cfg.InventorySoftCapRatio)
	if ratioLimit.GreaterThan(invLimit) {
		invLimit = ratioLimit
	}

	gated := trading.Side("")
	switch t.state {
	case trendAskOnly:
		if invAbs.GreaterThan(invLimit) && t.inventory.Sign() < 0 {
			// allow buying to reduce short inventory
		} else {
			gated = trading.SideBid
			if t.signal == signalDown {
				result.DeltaSpreadBps = t.cfg.DownExtraSpreadBps
			} else {
				result.DeltaSpreadBps = t.cfg.ExtraSpreadBps
			}
		}
	case trendBidOnly:
		if invAbs.GreaterThan(invLimit) && t.inventory.Sign() > 0 {
			// allow selling to reduce long inventory
		} else {
			gated = trading.SideAsk
			result.DeltaSpreadBps = t.cfg.ExtraSpreadBps
		}
	}

	if cooldownActive && gated != "" {
		if gated != trading.SideBid {
			gated = trading.SideBid
		}
		if t.cfg.DownExtraSpreadBps.GreaterThan(result.DeltaSpreadBps) {
			result.DeltaSpreadBps = t.cfg.DownExtraSpreadBps
		}
	}

	if gated != "" {
		result.Gates = map[trading.Side]bool{gated: true}
	}
	return result
}

package features

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/maker"
)

// ReleasePolicy controls how the PnL guard releases after triggering.
type ReleasePolicy string

const (
	ReleaseCooldown  ReleasePolicy = "cooldown"
	ReleaseRecovery  ReleasePolicy = "recovery"
	ReleaseEither    ReleasePolicy = "either"
)

// PnLGuardConfig mirrors the original source's pnl_guard.py config fields.
type PnLGuardConfig struct {
	Enabled bool

	RealizedFloorQuote  decimal.Decimal
	TriggerConsecutive  int
	WidenBps            decimal.Decimal
	MaxExtraBps         decimal.Decimal
	SizeMultiplier      decimal.Decimal
	MinSizeMultiplier   decimal.Decimal
	CooldownSeconds     float64
	CheckIntervalSeconds float64
	WindowSeconds       float64
	ReleasePolicy       ReleasePolicy
}

// PnLGuard widens the spread and cuts size after a run of cycles with
// windowed realized PnL below a floor, per ReleasePolicy it releases either
// on a fixed cooldown elapsing, on PnL recovering above the floor, or
// whichever comes first.
type PnLGuard struct {
	cfg PnLGuardConfig

	active              bool
	spreadExtra         decimal.Decimal
	sizeMult            decimal.Decimal
	expiry              time.Time
	consecutiveTriggers int
	lastCheck           time.Time
	lastWindowedPnL      decimal.Decimal
}

func NewPnLGuard(cfg PnLGuardConfig) *PnLGuard {
	if cfg.ReleasePolicy == "" {
		cfg.ReleasePolicy = ReleaseEither
	}
	return &PnLGuard{cfg: cfg, sizeMult: decimal.NewFromInt(1)}
}

func (p *PnLGuard) Name() string  { return "pnl_guard" }
func (p *PnLGuard) Enabled() bool { return p.cfg.Enabled }

// Update runs the throttled trigger/release evaluation off the windowed
// realized PnL the engine computed for this cycle.
func (p *PnLGuard) Update(sc maker.StateChange) {
	p.checkAndUpdate(sc.Now, sc.WindowedPnL)
}

func (p *PnLGuard) Adjust(maker.FeatureContext) maker.FeatureResult {
	if !p.cfg.Enabled || !p.active {
		return maker.FeatureResult{DeltaSpreadBps: decimal.Zero, SizeMultiplier: decimal.NewFromInt(1)}
	}
	return maker.FeatureResult{DeltaSpreadBps: p.spreadExtra, SizeMultiplier: p.sizeMult}
}

func (p *PnLGuard) checkAndUpdate(now time.Time, windowedPnL decimal.Decimal) {
	if !p.cfg.Enabled {
		return
	}
	if !p.lastCheck.IsZero() && now.Sub(p.lastCheck).Seconds() < p.cfg.CheckIntervalSeconds {
		return
	}
	p.lastCheck = now
	p.lastWindowedPnL = windowedPnL

	if windowedPnL.LessThan(p.cfg.RealizedFloorQuote) {
		p.consecutiveTriggers++
		if p.consecutiveTriggers >= maxInt(p.cfg.TriggerConsecutive, 1) && !p.active {
			p.activate(now)
		}
	} else if p.consecutiveTriggers > 0 {
		p.consecutiveTriggers = 0
		if p.cfg.ReleasePolicy == ReleaseRecovery || p.cfg.ReleasePolicy == ReleaseEither {
			if p.active {
				p.deactivate()
			}
		}
	}

	if p.active && (p.cfg.ReleasePolicy == ReleaseCooldown || p.cfg.ReleasePolicy == ReleaseEither) {
		if !now.Before(p.expiry) {
			p.deactivate()
		}
	}
}

func (p *PnLGuard) activate(now time.Time) {
	p.active = true
	p.spreadExtra = decimal.Min(p.cfg.WidenBps, p.cfg.MaxExtraBps)
	mult := p.cfg.SizeMultiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	p.sizeMult = decimal.Max(p.cfg.MinSizeMultiplier, mult)
	p.expiry = now.Add(time.Duration(p.cfg.CooldownSeconds * float64(time.Second)))
}

func (p *PnLGuard) deactivate() {
	p.active = false
	p.spreadExtra = decimal.Zero
	p.sizeMult = decimal.NewFromInt(1)
	p.consecutiveTriggers = 0
}

// Active reports whether the guard is currently widening/shrinking quotes.
func (p *PnLGuard) Active() bool { return p.active }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

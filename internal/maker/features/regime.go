package features

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/maker"
)

// RegimeProfile is a parameter bundle selected as a unit.
type RegimeProfile struct {
	SizeMultiplier      decimal.Decimal
	ExtraSpreadBps      decimal.Decimal
	DownCooldownSeconds float64
}

// RegimeConfig mirrors the original source's regime_switcher.py.
type RegimeConfig struct {
	Enabled         bool
	MinDwellSeconds float64
	VolThresholdBps decimal.Decimal
}

// Regime coarsens the trend and volatility signals into a two-state
// aggressive/defensive profile, enforcing a minimum dwell time before
// switching back.
type Regime struct {
	cfg RegimeConfig

	aggressive RegimeProfile
	defensive  RegimeProfile
	current    string
	lastSwitch time.Time

	pnlGuardActive bool
	trendDown      bool
	lowVol         bool
}

func NewRegime(cfg RegimeConfig) *Regime {
	return &Regime{
		cfg:        cfg,
		aggressive: RegimeProfile{SizeMultiplier: decimal.NewFromInt(1), ExtraSpreadBps: decimal.Zero, DownCooldownSeconds: 20},
		defensive:  RegimeProfile{SizeMultiplier: decimal.NewFromFloat(0.7), ExtraSpreadBps: decimal.NewFromInt(2), DownCooldownSeconds: 60},
		current:    "aggressive",
	}
}

func (r *Regime) Name() string  { return "regime" }
func (r *Regime) Enabled() bool { return r.cfg.Enabled }

// SetSignals lets the engine feed in the coarse signals other features
// computed this cycle (trend-down, low-vol, PnL guard active) before Update
// runs the dwell-gated switch decision.
func (r *Regime) SetSignals(pnlGuardActive, trendDown, lowVol bool) {
	r.pnlGuardActive = pnlGuardActive
	r.trendDown = trendDown
	r.lowVol = lowVol
}

func (r *Regime) Update(sc maker.StateChange) {
	if !r.cfg.Enabled {
		return
	}
	target := "aggressive"
	if r.pnlGuardActive || r.trendDown || r.lowVol {
		target = "defensive"
	}
	if target == r.current {
		return
	}
	if !r.lastSwitch.IsZero() && sc.Now.Sub(r.lastSwitch).Seconds() < r.cfg.MinDwellSeconds {
		return
	}
	r.current = target
	r.lastSwitch = sc.Now
}

func (r *Regime) profile() RegimeProfile {
	if r.current == "defensive" {
		return r.defensive
	}
	return r.aggressive
}

func (r *Regime) Adjust(maker.FeatureContext) maker.FeatureResult {
	if !r.cfg.Enabled {
		return maker.FeatureResult{DeltaSpreadBps: decimal.Zero, SizeMultiplier: decimal.NewFromInt(1)}
	}
	p := r.profile()
	return maker.FeatureResult{DeltaSpreadBps: p.ExtraSpreadBps, SizeMultiplier: p.SizeMultiplier}
}

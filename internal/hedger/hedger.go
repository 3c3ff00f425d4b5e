// Package hedger implements the Hedger: drives |inventory| back toward a
// target by taking liquidity, escalating from a passive resting order to an
// aggressive book-crossing one and finally to an emergency flatten when the
// Guard's kill-switch fires. Grounded on the original source's
// modules/hedger.py state machine and clip-sizing algorithm, restructured
// around the teacher's sentinel-error/state-machine idiom.
package hedger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-market-maker/internal/dec"
	"hl-market-maker/internal/guard"
	"hl-market-maker/internal/ports"
	"hl-market-maker/internal/trading"
)

// State is one node of the Hedger's escalation state machine.
type State string

const (
	StateIdle             State = "idle"
	StatePassive          State = "passive"
	StateAggressive       State = "aggressive"
	StateCooldown         State = "cooldown"
	StateEmergencyFlatten State = "emergency_flatten"
)

var ErrNoViableClip = errors.New("hedger: no clip size satisfies exchange minima without exceeding inventory")

// Config holds the Hedger's tunable parameters.
type Config struct {
	TriggerUnits    decimal.Decimal
	TriggerNotional decimal.Decimal
	TargetUnits     decimal.Decimal
	MaxClipUnits    decimal.Decimal

	PassiveOffsetBps    decimal.Decimal
	PassiveWaitSeconds  float64
	AggressiveOffsetBps decimal.Decimal
	MaxSlippageBps      decimal.Decimal
	CooldownSeconds     float64

	EmergencyBlockSeconds    float64
	EmergencyClipMultiplier  decimal.Decimal
	EmergencyExtraBps        decimal.Decimal
	EmergencyCooldownSeconds float64

	GuardClipMultiplier decimal.Decimal

	MaxAttempts         int
	RetryBackoffSeconds float64
}

// Hedger owns one market's escalation state machine.
type Hedger struct {
	cfg    Config
	market trading.Market
	store  *trading.Store
	guard  *guard.Guard
	client ports.TradingClient
	log    *zap.Logger

	state          State
	stateEnteredAt time.Time
	blockedSince   time.Time
	inFlightOrder  string
	yieldedCycles  int
}

func New(cfg Config, market trading.Market, store *trading.Store, g *guard.Guard, client ports.TradingClient, log *zap.Logger) *Hedger {
	return &Hedger{cfg: cfg, market: market, store: store, guard: g, client: client, log: log, state: StateIdle}
}

func (h *Hedger) State() State { return h.state }

func (h *Hedger) transition(to State, now time.Time) {
	if h.state == to {
		return
	}
	h.state = to
	h.stateEnteredAt = now
}

// NotifyMakerBlocked tells the Hedger the maker has been unable to quote
// since blockedSince; used to drive the emergency-flatten escalation when
// the maker has been blocked longer than EmergencyBlockSeconds.
func (h *Hedger) NotifyMakerBlocked(blockedSince time.Time) {
	h.blockedSince = blockedSince
}

func (h *Hedger) NotifyMakerUnblocked() {
	h.blockedSince = time.Time{}
}

// ClipSize computes the signed-agnostic clip magnitude per the documented
// algorithm: desired clip capped at max_clip_units and at |inv|-target
// first, optionally shrunk by the PnL-guard multiplier, THEN rounded up to
// satisfy exchange minima — the cap against |inv| is applied before the
// min-notional round-up so the hedger never over-hedges past flat.
func (h *Hedger) ClipSize(invAbs, mid decimal.Decimal, pnlGuardActive bool) (decimal.Decimal, error) {
	target := h.cfg.TargetUnits
	desired := invAbs.Sub(target)
	if desired.Sign() <= 0 {
		return decimal.Zero, nil
	}
	if h.cfg.MaxClipUnits.Sign() > 0 && desired.GreaterThan(h.cfg.MaxClipUnits) {
		desired = h.cfg.MaxClipUnits
	}
	if pnlGuardActive && h.cfg.GuardClipMultiplier.Sign() > 0 {
		desired = desired.Mul(h.cfg.GuardClipMultiplier)
	}

	ceiling := invAbs.Sub(target)
	if desired.GreaterThan(ceiling) {
		desired = ceiling
	}

	rounded := dec.SmallestMultipleSatisfying(desired, h.market.LotSize, mid, h.market.ExchangeMinNotional)
	if rounded.LessThan(h.market.ExchangeMinSize) {
		rounded = h.market.ExchangeMinSize
	}
	if rounded.GreaterThan(invAbs) {
		return decimal.Zero, ErrNoViableClip
	}
	return rounded, nil
}

// Outcome reports what the Evaluate cycle did.
type Outcome struct {
	State   State
	OrderID string
	Err     error
	Skipped bool
}

// Evaluate runs one state-machine step for the Hedger's market.
func (h *Hedger) Evaluate(ctx context.Context, now time.Time) Outcome {
	if killed, _ := h.store.KillSwitched(); killed {
		h.transition(StateEmergencyFlatten, now)
	}

	snap := h.store.Snapshot(h.market.ID)
	invAbs := snap.Inventory.Abs()

	overTrigger := false
	if h.cfg.TriggerUnits.Sign() > 0 && invAbs.GreaterThan(h.cfg.TriggerUnits) {
		overTrigger = true
	}
	if h.cfg.TriggerNotional.Sign() > 0 && snap.Mid.Sign() > 0 {
		if invAbs.Mul(snap.Mid).GreaterThan(h.cfg.TriggerNotional) {
			overTrigger = true
		}
	}

	emergencyBlocked := h.cfg.EmergencyBlockSeconds > 0 && !h.blockedSince.IsZero() &&
		now.Sub(h.blockedSince).Seconds() > h.cfg.EmergencyBlockSeconds

	switch h.state {
	case StateIdle:
		if !overTrigger {
			return Outcome{State: h.state, Skipped: true}
		}
		if emergencyBlocked {
			h.transition(StateEmergencyFlatten, now)
		} else {
			h.transition(StatePassive, now)
		}
		return h.act(ctx, now, snap, invAbs)

	case StatePassive:
		if !overTrigger {
			h.transition(StateCooldown, now)
			return Outcome{State: h.state, Skipped: true}
		}
		if now.Sub(h.stateEnteredAt).Seconds() > h.cfg.PassiveWaitSeconds {
			h.transition(StateAggressive, now)
		}
		return h.act(ctx, now, snap, invAbs)

	case StateAggressive:
		return h.act(ctx, now, snap, invAbs)

	case StateEmergencyFlatten:
		return h.act(ctx, now, snap, invAbs)

	case StateCooldown:
		cooldown := h.cfg.CooldownSeconds
		if now.Sub(h.stateEnteredAt).Seconds() < cooldown {
			return Outcome{State: h.state, Skipped: true}
		}
		h.transition(StateIdle, now)
		return Outcome{State: h.state, Skipped: true}
	}
	return Outcome{State: h.state, Skipped: true}
}

func (h *Hedger) act(ctx context.Context, now time.Time, snap trading.Snapshot, invAbs decimal.Decimal) Outcome {
	if h.inFlightOrder != "" {
		return Outcome{State: h.state, Skipped: true}
	}

	side := trading.SideAsk
	if snap.Inventory.Sign() < 0 {
		side = trading.SideBid
	}

	for _, o := range snap.Orders {
		if o.Side == side && o.Role == trading.RoleMaker {
			return Outcome{State: h.state, Skipped: true}
		}
	}

	emergency := h.state == StateEmergencyFlatten
	clipMultiplierActive := emergency && h.cfg.EmergencyClipMultiplier.Sign() > 0
	clip, err := h.ClipSize(invAbs, snap.Mid, false)
	if err != nil {
		h.yieldedCycles++
		return Outcome{State: h.state, Err: err, Skipped: true}
	}
	if clipMultiplierActive {
		clip = clip.Mul(h.cfg.EmergencyClipMultiplier)
	}
	if clip.Sign() <= 0 {
		return Outcome{State: h.state, Skipped: true}
	}

	offsetBps := h.cfg.PassiveOffsetBps
	aggressive := h.state == StateAggressive || emergency
	if aggressive {
		offsetBps = h.cfg.AggressiveOffsetBps
		if emergency {
			offsetBps = offsetBps.Add(h.cfg.EmergencyExtraBps)
		}
		if h.cfg.MaxSlippageBps.Sign() > 0 && offsetBps.GreaterThan(h.cfg.MaxSlippageBps) {
			offsetBps = h.cfg.MaxSlippageBps
		}
	}
	offsetFrac := dec.Bps(offsetBps)

	var price decimal.Decimal
	if side == trading.SideAsk {
		price = snap.Mid.Mul(decimal.NewFromInt(1).Sub(offsetFrac))
		price = dec.QuantizeDown(price, h.market.TickSize)
	} else {
		price = snap.Mid.Mul(decimal.NewFromInt(1).Add(offsetFrac))
		price = dec.QuantizeUp(price, h.market.TickSize)
	}

	inventoryAfter := snap.Inventory
	if side == trading.SideBid {
		inventoryAfter = inventoryAfter.Add(clip)
	} else {
		inventoryAfter = inventoryAfter.Sub(clip)
	}

	order := guard.Order{
		Market:              h.market.ID,
		Side:                side,
		Price:               price,
		Size:                clip,
		BestBid:             snap.BestBid,
		BestAsk:             snap.BestAsk,
		Mid:                 snap.Mid,
		MidTS:               snap.MidTS,
		MidSynthetic:        snap.MidSynthetic,
		InventoryAfterFill:  inventoryAfter,
		ExchangeMinSize:     h.market.ExchangeMinSize,
		ExchangeMinNotional: h.market.ExchangeMinNotional,
	}
	if err := h.guard.Validate(order, now); err != nil {
		return Outcome{State: h.state, Err: err, Skipped: true}
	}

	postOnly := !aggressive
	orderID, err := h.client.SubmitLimit(ctx, h.market.ID, side, price, clip, postOnly, trading.RoleHedger)
	if err != nil {
		return Outcome{State: h.state, Err: err}
	}
	h.inFlightOrder = orderID
	h.store.AddOrder(trading.OpenOrder{
		OrderID:       orderID,
		Market:        h.market.ID,
		Side:          side,
		Price:         price,
		SizeRemaining: clip,
		Role:          trading.RoleHedger,
		SubmitTS:      now.UnixNano(),
	})
	if emergency {
		h.transition(StateCooldown, now)
	}
	return Outcome{State: h.state, OrderID: orderID}
}

// OnFillCleared releases the single-leg in-flight slot once the hedger's
// resting order has been filled or canceled, and rolls the state machine
// into cooldown.
func (h *Hedger) OnFillCleared(now time.Time) {
	h.inFlightOrder = ""
	if h.state != StateIdle && h.state != StateCooldown {
		h.transition(StateCooldown, now)
	}
}

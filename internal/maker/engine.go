package maker

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

// Config holds the core quote-cycle parameters; feature-specific config
// lives with each feature.
type Config struct {
	Market             trading.Market
	BaseSpreadBps      decimal.Decimal
	MinSpreadBps       decimal.Decimal
	BaseSize           decimal.Decimal
	MinSize            decimal.Decimal
	MaxSize            decimal.Decimal
	MaxClipSize        decimal.Decimal
	PriceEpsilon       decimal.Decimal
	SizeEpsilon        decimal.Decimal
	MaxCancelsPerMinute int
}

// Outcome classifies what happened to one side's quote attempt for this
// cycle, so callers and telemetry can react without parsing error strings.
type Outcome int

const (
	OutcomeSubmitted Outcome = iota
	OutcomeSticky
	OutcomeRejected
	OutcomeThrottled
	OutcomeSkipped
)

// SideOutcome is the per-side result of one quote cycle.
type SideOutcome struct {
	Side    trading.Side
	Outcome Outcome
	Err     error
	OrderID string
}

var ErrMarketAborted = errors.New("maker: clip exceeds max_clip_size, aborting cycle")

// Engine is the MakerEngine: it reads a consistent state snapshot, runs the
// feature chain, quantizes the result to the market's tick/lot grid, and
// submits or retains quotes through the Guard and TradingClient.
type Engine struct {
	cfg      Config
	store    *trading.Store
	guard    *guard.Guard
	client   ports.TradingClient
	features []Feature
	log      *zap.Logger

	cancelTimes []time.Time
	throttled   bool

	generationID int64
}

func New(cfg Config, store *trading.Store, g *guard.Guard, client ports.TradingClient, log *zap.Logger, features ...Feature) *Engine {
	return &Engine{cfg: cfg, store: store, guard: g, client: client, features: features, log: log}
}

// UpdateFeatures pushes a StateChange to every feature. Called once per
// dispatcher step ahead of RunCycle, before the feature chain is consulted.
func (e *Engine) UpdateFeatures(sc StateChange) {
	for _, f := range e.features {
		if f.Enabled() {
			f.Update(sc)
		}
	}
}

// RunCycle executes one full quote cycle for the engine's market.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) []SideOutcome {
	if killed, _ := e.store.KillSwitched(); killed {
		return []SideOutcome{{Outcome: OutcomeSkipped}}
	}

	snap := e.store.Snapshot(e.cfg.Market.ID)
	e.generationID++

	fctx := FeatureContext{Market: e.cfg.Market.ID, Mid: snap.Mid, Inventory: snap.Inventory, Now: now}

	deltaSpread := decimal.Zero
	sizeMult := decimal.NewFromInt(1)
	gates := map[trading.Side]bool{}
	for _, f := range e.features {
		if !f.Enabled() {
			continue
		}
		r := f.Adjust(fctx)
		deltaSpread = deltaSpread.Add(r.DeltaSpreadBps)
		if r.SizeMultiplier.Sign() > 0 {
			sizeMult = sizeMult.Mul(r.SizeMultiplier)
		}
		for side, on := range r.Gates {
			if on {
				gates[side] = true
			}
		}
	}

	halfSpreadBps := decimal.Max(e.cfg.MinSpreadBps, e.cfg.BaseSpreadBps.Add(deltaSpread)).Div(decimal.NewFromInt(2))
	halfSpreadFrac := dec.Bps(halfSpreadBps)

	rawBid := snap.Mid.Mul(decimal.NewFromInt(1).Sub(halfSpreadFrac))
	rawAsk := snap.Mid.Mul(decimal.NewFromInt(1).Add(halfSpreadFrac))
	rawSize := e.cfg.BaseSize.Mul(sizeMult)
	if rawSize.LessThan(e.cfg.MinSize) {
		rawSize = e.cfg.MinSize
	}
	if e.cfg.MaxSize.Sign() > 0 && rawSize.GreaterThan(e.cfg.MaxSize) {
		rawSize = e.cfg.MaxSize
	}

	bidPrice := dec.QuantizeDown(rawBid, e.cfg.Market.TickSize)
	askPrice := dec.QuantizeUp(rawAsk, e.cfg.Market.TickSize)
	size := dec.QuantizeDown(rawSize, e.cfg.Market.LotSize)
	if size.LessThan(e.cfg.Market.LotSize) {
		size = e.cfg.Market.LotSize
	}

	mid := snap.Mid
	if mid.Sign() > 0 && bidPrice.Mul(size).LessThan(e.cfg.Market.ExchangeMinNotional) {
		size = dec.SmallestMultipleSatisfying(size, e.cfg.Market.LotSize, bidPrice, e.cfg.Market.ExchangeMinNotional)
	}
	if e.cfg.MaxClipSize.Sign() > 0 && size.GreaterThan(e.cfg.MaxClipSize) {
		return []SideOutcome{{Outcome: OutcomeSkipped, Err: ErrMarketAborted}}
	}

	var outcomes []SideOutcome
	outcomes = append(outcomes, e.quoteSide(ctx, now, snap, trading.SideBid, bidPrice, size, gates))
	outcomes = append(outcomes, e.quoteSide(ctx, now, snap, trading.SideAsk, askPrice, size, gates))

	e.store.Heartbeat("maker:"+e.cfg.Market.ID, now)
	return outcomes
}

func (e *Engine) quoteSide(ctx context.Context, now time.Time, snap trading.Snapshot, side trading.Side, price, size decimal.Decimal, gates map[trading.Side]bool) SideOutcome {
	if gates[side] {
		return SideOutcome{Side: side, Outcome: OutcomeSkipped}
	}

	inventoryAfter := snap.Inventory
	if side == trading.SideBid {
		inventoryAfter = inventoryAfter.Add(size)
	} else {
		inventoryAfter = inventoryAfter.Sub(size)
	}

	order := guard.Order{
		Market:              e.cfg.Market.ID,
		Side:                side,
		Price:               price,
		Size:                size,
		BestBid:             snap.BestBid,
		BestAsk:             snap.BestAsk,
		Mid:                 snap.Mid,
		MidTS:               snap.MidTS,
		MidSynthetic:        snap.MidSynthetic,
		InventoryAfterFill:  inventoryAfter,
		ExchangeMinSize:     e.cfg.Market.ExchangeMinSize,
		ExchangeMinNotional: e.cfg.Market.ExchangeMinNotional,
	}
	if err := e.guard.Validate(order, now); err != nil {
		return SideOutcome{Side: side, Outcome: OutcomeRejected, Err: err}
	}

	for _, existing := range snap.Orders {
		if existing.Side != side || existing.Role != trading.RoleMaker {
			continue
		}
		if existing.Price.Sub(price).Abs().LessThanOrEqual(e.cfg.PriceEpsilon) &&
			existing.SizeRemaining.Sub(size).Abs().LessThanOrEqual(e.cfg.SizeEpsilon) {
			return SideOutcome{Side: side, Outcome: OutcomeSticky, OrderID: existing.OrderID}
		}
	}

	for _, existing := range snap.Orders {
		if existing.Side == side && existing.Role == trading.RoleMaker {
			if !e.allowCancel(now) {
				return SideOutcome{Side: side, Outcome: OutcomeThrottled}
			}
			if err := e.client.Cancel(ctx, existing.OrderID); err != nil {
				return SideOutcome{Side: side, Outcome: OutcomeRejected, Err: err}
			}
			e.store.RemoveOrder(existing.OrderID)
			e.recordCancel(now)
		}
	}

	orderID, err := e.client.SubmitLimit(ctx, e.cfg.Market.ID, side, price, size, true, trading.RoleMaker)
	if err != nil {
		return SideOutcome{Side: side, Outcome: OutcomeRejected, Err: err}
	}
	e.store.AddOrder(trading.OpenOrder{
		OrderID:       orderID,
		Market:        e.cfg.Market.ID,
		Side:          side,
		Price:         price,
		SizeRemaining: size,
		Role:          trading.RoleMaker,
		SubmitTS:      now.UnixNano(),
	})
	return SideOutcome{Side: side, Outcome: OutcomeSubmitted, OrderID: orderID}
}

// allowCancel reports whether a cancel is permitted under the sliding
// 60-second cancel-throttle window, dropping cancels older than the window.
func (e *Engine) allowCancel(now time.Time) bool {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(e.cancelTimes) && !e.cancelTimes[i].After(cutoff) {
		i++
	}
	e.cancelTimes = e.cancelTimes[i:]
	if e.cfg.MaxCancelsPerMinute > 0 && len(e.cancelTimes) >= e.cfg.MaxCancelsPerMinute {
		e.throttled = true
		return false
	}
	e.throttled = false
	return true
}

func (e *Engine) recordCancel(now time.Time) {
	e.cancelTimes = append(e.cancelTimes, now)
}

// Throttled reports whether the cancel-discipline window is currently
// suppressing new cancels.
func (e *Engine) Throttled() bool { return e.throttled }

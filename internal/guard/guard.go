// Package guard implements the Self-Trade & Risk Guard: pre-submit
// validation of every order the MakerEngine and Hedger produce, plus the
// process-wide kill-switch latch. Grounded on the source material's
// modules/self_trade_guard.py validation rules, restructured as
// short-circuited sentinel-error checks.
package guard

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/dec"
	"hl-market-maker/internal/trading"
)

// Rejection kinds. Exposed as sentinel errors so callers can react
// deterministically to the Guard's own pre-submit checks.
var (
	ErrPriceBand           = errors.New("guard: price outside band")
	ErrCrossedBook         = errors.New("guard: order would cross the book")
	ErrInventoryCap        = errors.New("guard: inventory cap breached")
	ErrExchangeMinSize     = errors.New("guard: below exchange minimum size")
	ErrExchangeMinNotional = errors.New("guard: below exchange minimum notional")
	ErrStaleMid            = errors.New("guard: mid stale or synthetic")
)

// Config holds the Guard's tunable limits.
type Config struct {
	PriceBandBps         decimal.Decimal
	MaxPositionUnits     decimal.Decimal
	MaxInventoryNotional decimal.Decimal
	MaxMidAge            time.Duration

	KillOnCrossedBook     bool
	KillOnInventoryBreach bool
}

// Order is the minimal shape the Guard needs to validate a candidate order;
// both the MakerEngine and the Hedger construct one of these before submit.
type Order struct {
	Market              string
	Side                trading.Side
	Price               decimal.Decimal
	Size                decimal.Decimal
	BestBid             decimal.Decimal
	BestAsk             decimal.Decimal
	Mid                 decimal.Decimal
	MidTS               time.Time
	MidSynthetic        bool
	InventoryAfterFill  decimal.Decimal
	ExchangeMinSize     decimal.Decimal
	ExchangeMinNotional decimal.Decimal
}

// Guard holds the configured limits and the shared kill-switch latch (owned
// by the StateStore so Hedger emergency-flatten logic can observe it too).
type Guard struct {
	cfg   Config
	store *trading.Store
}

// New returns a Guard bound to a StateStore for latching.
func New(cfg Config, store *trading.Store) *Guard {
	return &Guard{cfg: cfg, store: store}
}

// Validate runs the checks in order, short-circuiting on the first failure.
// On a rejection that matches a configured kill-switch, it latches the
// StateStore before returning the error.
func (g *Guard) Validate(o Order, now time.Time) error {
	if err := g.checkPriceBand(o); err != nil {
		return err
	}
	if err := g.checkCrossedBook(o); err != nil {
		g.maybeLatch(g.cfg.KillOnCrossedBook, err)
		return err
	}
	if err := g.checkInventoryCap(o); err != nil {
		g.maybeLatch(g.cfg.KillOnInventoryBreach, err)
		return err
	}
	if err := g.checkExchangeMinima(o); err != nil {
		return err
	}
	if err := g.checkMidFreshness(o, now); err != nil {
		return err
	}
	return nil
}

func (g *Guard) maybeLatch(enabled bool, err error) {
	if enabled && g.store != nil {
		g.store.LatchKillSwitch(err.Error())
	}
}

// checkPriceBand rejects |order.price - mid| / mid > price_band_bps / 10_000.
// A price landing exactly on the band edge is accepted; only strictly
// exceeding the band rejects.
func (g *Guard) checkPriceBand(o Order) error {
	if o.Mid.IsZero() {
		return ErrStaleMid
	}
	bandFrac := dec.Bps(g.cfg.PriceBandBps)
	diff := o.Price.Sub(o.Mid).Abs().Div(o.Mid)
	if diff.GreaterThan(bandFrac) {
		return ErrPriceBand
	}
	return nil
}

// checkCrossedBook enforces strict no-cross: a bid at or past best ask, or
// an ask at or past best bid, is rejected.
func (g *Guard) checkCrossedBook(o Order) error {
	switch o.Side {
	case trading.SideBid:
		if !o.Price.LessThan(o.BestAsk) {
			return ErrCrossedBook
		}
	case trading.SideAsk:
		if !o.Price.GreaterThan(o.BestBid) {
			return ErrCrossedBook
		}
	}
	return nil
}

func (g *Guard) checkInventoryCap(o Order) error {
	absAfter := o.InventoryAfterFill.Abs()
	if g.cfg.MaxPositionUnits.Sign() > 0 && absAfter.GreaterThan(g.cfg.MaxPositionUnits) {
		return ErrInventoryCap
	}
	if g.cfg.MaxInventoryNotional.Sign() > 0 {
		notional := absAfter.Mul(o.Mid)
		if notional.GreaterThan(g.cfg.MaxInventoryNotional) {
			return ErrInventoryCap
		}
	}
	return nil
}

func (g *Guard) checkExchangeMinima(o Order) error {
	if o.Size.LessThan(o.ExchangeMinSize) {
		return ErrExchangeMinSize
	}
	if o.Price.Mul(o.Size).LessThan(o.ExchangeMinNotional) {
		return ErrExchangeMinNotional
	}
	return nil
}

func (g *Guard) checkMidFreshness(o Order, now time.Time) error {
	if o.MidSynthetic {
		return ErrStaleMid
	}
	if g.cfg.MaxMidAge > 0 && now.Sub(o.MidTS) > g.cfg.MaxMidAge {
		return ErrStaleMid
	}
	return nil
}

// Package pnl implements the PnLCompositor: per-market FIFO lot queues
// deriving realized PnL, unrealized PnL, and cost basis. Grounded on the
// source material's metrics/compositor.py, reworked from a
// ledger-rescan-per-snapshot model into an incremental one that updates lot
// queues fill-by-fill, matching the cooperative single-writer dispatcher
// model the rest of this module uses.
package pnl

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/ledger"
)

// lot is a single FIFO fragment of open exposure. sign is +1 for a long lot,
// -1 for a short lot; remaining is always non-negative.
type lot struct {
	remaining decimal.Decimal
	sign      int
	costBasis decimal.Decimal
}

type windowSample struct {
	ts  int64 // unix nanos
	pnl decimal.Decimal
}

type marketBook struct {
	lots     []lot
	realized decimal.Decimal
	windowed []windowSample
}

// Compositor maintains one marketBook per market.
type Compositor struct {
	books map[string]*marketBook
}

// New returns an empty PnLCompositor.
func New() *Compositor {
	return &Compositor{books: make(map[string]*marketBook)}
}

func (c *Compositor) book(market string) *marketBook {
	b, ok := c.books[market]
	if !ok {
		b = &marketBook{}
		c.books[market] = b
	}
	return b
}

// ApplyFill runs the FIFO matching algorithm for a single fill, mutating the
// lot queue and accumulating realized PnL. Fees are always debited from
// realized PnL for that fill's market, whether the fill opened or closed
// exposure.
func (c *Compositor) ApplyFill(f ledger.Fill) {
	b := c.book(f.Market)
	s := f.SignedSize()
	var fillPnL decimal.Decimal

	for !s.IsZero() {
		sign := sign(s)
		if len(b.lots) == 0 || b.lots[0].sign == sign {
			b.lots = append(b.lots, lot{remaining: s.Abs(), sign: sign, costBasis: f.Price})
			s = decimal.Zero
			break
		}
		head := &b.lots[0]
		m := decimal.Min(s.Abs(), head.remaining)
		// pnl = m * (fill.price - head.cost_basis) * sign(head)
		delta := f.Price.Sub(head.costBasis)
		if head.sign < 0 {
			delta = delta.Neg()
		}
		fillPnL = fillPnL.Add(m.Mul(delta))
		head.remaining = head.remaining.Sub(m)
		if head.remaining.IsZero() {
			b.lots = b.lots[1:]
		}
		s = reduceMagnitude(s, m)
	}

	fillPnL = fillPnL.Sub(f.Fee)
	b.realized = b.realized.Add(fillPnL)
	b.windowed = append(b.windowed, windowSample{ts: f.TS.UnixNano(), pnl: fillPnL})
}

// Replay rebuilds the Compositor from an ordered slice of fills, in
// ledger-append order. Replaying a ledger prefix into a fresh Compositor
// reproduces the live run's realized PnL, cost basis, and lot queue
// bit-exact.
func Replay(fills []ledger.Fill) *Compositor {
	c := New()
	for _, f := range fills {
		c.ApplyFill(f)
	}
	return c
}

// AddRealized folds an out-of-band realized PnL contribution — a funding
// payment, not a fill — into market's book at ts. It does not touch the lot
// queue, so it never perturbs CostBasis or LotSum.
func (c *Compositor) AddRealized(market string, amount decimal.Decimal, ts time.Time) {
	b := c.book(market)
	b.realized = b.realized.Add(amount)
	b.windowed = append(b.windowed, windowSample{ts: ts.UnixNano(), pnl: amount})
}

// Realized returns the all-time realized PnL for market.
func (c *Compositor) Realized(market string) decimal.Decimal {
	b, ok := c.books[market]
	if !ok {
		return decimal.Zero
	}
	return b.realized
}

// WindowedRealized sums realized-PnL contributions whose producing fill
// falls in [t1, t2] (unix nanos, inclusive). Independent of where exactly the
// boundary falls between two adjacent fills, because each contribution is
// attributed to its own fill's timestamp, not interpolated.
func (c *Compositor) WindowedRealized(market string, t1, t2 int64) decimal.Decimal {
	b, ok := c.books[market]
	if !ok {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, w := range b.windowed {
		if w.ts >= t1 && w.ts <= t2 {
			total = total.Add(w.pnl)
		}
	}
	return total
}

// Unrealized returns the mark-to-market PnL of open lots at mid: the sum
// over open lots of remaining * (mid - cost_basis) * sign.
func (c *Compositor) Unrealized(market string, mid decimal.Decimal) decimal.Decimal {
	b, ok := c.books[market]
	if !ok {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, l := range b.lots {
		delta := mid.Sub(l.costBasis)
		if l.sign < 0 {
			delta = delta.Neg()
		}
		total = total.Add(l.remaining.Mul(delta))
	}
	return total
}

// CostBasis returns (avgEntryPrice, signedSize) across the open lot queue,
// suitable for wiring as trading.CostBasisFunc. avgEntryPrice is the
// size-weighted average of each lot's entry price.
func (c *Compositor) CostBasis(market string) (decimal.Decimal, decimal.Decimal) {
	b, ok := c.books[market]
	if !ok || len(b.lots) == 0 {
		return decimal.Zero, decimal.Zero
	}
	signedSize := decimal.Zero
	weighted := decimal.Zero
	for _, l := range b.lots {
		signed := l.remaining
		if l.sign < 0 {
			signed = signed.Neg()
		}
		signedSize = signedSize.Add(signed)
		weighted = weighted.Add(l.remaining.Mul(l.costBasis))
	}
	totalRemaining := signedSize.Abs()
	if totalRemaining.IsZero() {
		return decimal.Zero, signedSize
	}
	return weighted.Div(totalRemaining), signedSize
}

// LotSum returns the signed sum of the open lot queue for market, used to
// assert that the lot queue agrees with recorded inventory.
func (c *Compositor) LotSum(market string) decimal.Decimal {
	_, signedSize := c.CostBasis(market)
	return signedSize
}

func sign(d decimal.Decimal) int {
	if d.Sign() < 0 {
		return -1
	}
	return 1
}

// reduceMagnitude subtracts m from |s|, preserving s's sign.
func reduceMagnitude(s, m decimal.Decimal) decimal.Decimal {
	remaining := s.Abs().Sub(m)
	if sign(s) < 0 {
		return remaining.Neg()
	}
	return remaining
}

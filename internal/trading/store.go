// Package trading implements the StateStore: the single in-process authority
// for mids, inventory, open orders, and cost basis shared by the MakerEngine,
// Hedger, and Guard. All mutation is expected to happen from one dispatcher
// goroutine (see internal/app); the mutex here guards against accidental
// concurrent reads from background goroutines such as the metrics or
// operator surfaces, it is not a substitute for that single-writer
// discipline.
package trading

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// CostBasisFunc derives (avgPrice, signedSize) for a market from whatever
// component owns the FIFO lot queue (internal/pnl). Injected rather than
// imported directly so trading has no dependency on pnl.
type CostBasisFunc func(market string) (avgPrice decimal.Decimal, signedSize decimal.Decimal)

type midEntry struct {
	price     decimal.Decimal
	ts        time.Time
	synthetic bool
}

type bookTop struct {
	bid decimal.Decimal
	ask decimal.Decimal
}

// Store is the StateStore: shared authority for mids, inventory, open
// orders, and cost basis.
type Store struct {
	mu sync.RWMutex

	mids       map[string]midEntry
	tops       map[string]bookTop
	inventory  map[string]decimal.Decimal
	orders     map[string]OpenOrder
	heartbeats map[string]time.Time

	killSwitched bool
	killReason   string

	costBasis CostBasisFunc
}

// New returns an empty StateStore.
func New() *Store {
	return &Store{
		mids:       make(map[string]midEntry),
		tops:       make(map[string]bookTop),
		inventory:  make(map[string]decimal.Decimal),
		orders:     make(map[string]OpenOrder),
		heartbeats: make(map[string]time.Time),
	}
}

// SetCostBasisFunc wires the PnLCompositor's lot-queue accessor. Must be
// called once during startup wiring, before any component calls CostBasis.
func (s *Store) SetCostBasisFunc(fn CostBasisFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costBasis = fn
}

// SetMid records a live mid for market, observed at ts.
func (s *Store) SetMid(market string, price decimal.Decimal, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mids[market] = midEntry{price: price, ts: ts, synthetic: false}
}

// SetSyntheticMid records a synthetic (Ingestor-generated) mid. The Guard
// must treat these as invalid for order placement.
func (s *Store) SetSyntheticMid(market string, price decimal.Decimal, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mids[market] = midEntry{price: price, ts: ts, synthetic: true}
}

// Mid returns the current mid, its observation time, and whether it exists.
func (s *Store) Mid(market string) (decimal.Decimal, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.mids[market]
	if !ok {
		return decimal.Zero, time.Time{}, false
	}
	return e.price, e.ts, true
}

// IsSynthetic reports whether the current mid for market was synthesized by
// the Ingestor rather than observed on the wire.
func (s *Store) IsSynthetic(market string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mids[market].synthetic
}

// SetBookTop records the best bid/ask the Ingestor last observed for market,
// used by the Guard's crossed-book check. Independent of SetMid/
// SetSyntheticMid so a synthetic mid can still carry a real book top.
func (s *Store) SetBookTop(market string, bid, ask decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tops[market] = bookTop{bid: bid, ask: ask}
}

// BookTop returns the last recorded best bid/ask for market. If none has
// been recorded, both values fall back to the current mid.
func (s *Store) BookTop(market string) (bid, ask decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if top, ok := s.tops[market]; ok {
		return top.bid, top.ask
	}
	mid := s.mids[market].price
	return mid, mid
}

// Inventory returns the current signed position for market.
func (s *Store) Inventory(market string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inventory[market]
}

// UpdateInventory applies a signed delta atomically and returns the new
// value. The StateStore never invents quantity: callers must derive delta
// from an actual fill or an explicit reconciliation.
func (s *Store) UpdateInventory(market string, signedDelta decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.inventory[market].Add(signedDelta)
	s.inventory[market] = next
	return next
}

// SetInventory snaps inventory to an absolute value (used for account-stream
// reconciliation on drift).
func (s *Store) SetInventory(market string, value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[market] = value
}

// AddOrder registers a newly-acked open order.
func (s *Store) AddOrder(o OpenOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = o
}

// RemoveOrder deletes an order on final-state transition and returns it.
func (s *Store) RemoveOrder(orderID string) (OpenOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if ok {
		delete(s.orders, orderID)
	}
	return o, ok
}

// MutateOrderSize reduces size_remaining on a partial fill.
func (s *Store) MutateOrderSize(orderID string, newRemaining decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.SizeRemaining = newRemaining
		s.orders[orderID] = o
	}
}

// Orders returns open orders for market, optionally filtered by side/role.
// Zero-value side/role mean "any".
func (s *Store) Orders(market string, side Side, role Role) []OpenOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OpenOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if o.Market != market {
			continue
		}
		if side != "" && o.Side != side {
			continue
		}
		if role != "" && o.Role != role {
			continue
		}
		out = append(out, o)
	}
	return out
}

// CostBasis derives (avgPrice, signedSize) from the registered PnLCompositor
// accessor. Returns zero values if no accessor has been wired yet.
func (s *Store) CostBasis(market string) (decimal.Decimal, decimal.Decimal) {
	s.mu.RLock()
	fn := s.costBasis
	s.mu.RUnlock()
	if fn == nil {
		return decimal.Zero, decimal.Zero
	}
	return fn(market)
}

// Heartbeat records that source produced a live signal at ts.
func (s *Store) Heartbeat(source string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[source] = ts
}

// Age returns how long it has been since source last heartbeat, relative to
// now. A source that has never heartbeat returns a very large duration so
// staleness checks fail closed.
func (s *Store) Age(source string, now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last, ok := s.heartbeats[source]
	if !ok {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(last)
}

// LatchKillSwitch engages the process-wide kill-switch latch. Idempotent:
// the first reason recorded sticks until an explicit ClearKillSwitch.
func (s *Store) LatchKillSwitch(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killSwitched {
		return
	}
	s.killSwitched = true
	s.killReason = reason
}

// ClearKillSwitch resets the latch. Only an explicit external signal
// (restart or operator command) may call this.
func (s *Store) ClearKillSwitch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killSwitched = false
	s.killReason = ""
}

// KillSwitched reports whether the latch is engaged and why.
func (s *Store) KillSwitched() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.killSwitched, s.killReason
}

// Snapshot is a deep-copied, consistent read of the pieces of state the
// MakerEngine reads once per quote cycle.
type Snapshot struct {
	Market       string
	Mid          decimal.Decimal
	MidTS        time.Time
	MidSynthetic bool
	BestBid      decimal.Decimal
	BestAsk      decimal.Decimal
	Inventory    decimal.Decimal
	Orders       []OpenOrder
	AvgEntry     decimal.Decimal
}

// Snapshot returns a consistent view of one market's state.
func (s *Store) Snapshot(market string) Snapshot {
	s.mu.RLock()
	mid := s.mids[market]
	top, hasTop := s.tops[market]
	inv := s.inventory[market]
	orders := make([]OpenOrder, 0)
	for _, o := range s.orders {
		if o.Market == market {
			orders = append(orders, o)
		}
	}
	fn := s.costBasis
	s.mu.RUnlock()

	var avgEntry decimal.Decimal
	if fn != nil {
		avgEntry, _ = fn(market)
	}
	bestBid, bestAsk := mid.price, mid.price
	if hasTop {
		bestBid, bestAsk = top.bid, top.ask
	}
	return Snapshot{
		Market:       market,
		Mid:          mid.price,
		MidTS:        mid.ts,
		MidSynthetic: mid.synthetic,
		BestBid:      bestBid,
		BestAsk:      bestAsk,
		Inventory:    inv,
		Orders:       orders,
		AvgEntry:     avgEntry,
	}
}

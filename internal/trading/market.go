package trading

import "github.com/shopspring/decimal"

// Side is which side of the book an order rests on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Role is the logical producer of an order.
type Role string

const (
	RoleMaker  Role = "maker"
	RoleHedger Role = "hedger"
)

// Market carries the immutable per-market metadata registered at startup.
type Market struct {
	ID                  string
	AssetID             int
	PriceScale          int32
	SizeScale           int32
	ExchangeMinSize     decimal.Decimal
	ExchangeMinNotional decimal.Decimal
	TickSize            decimal.Decimal
	LotSize             decimal.Decimal
}

// OpenOrder is a resting order the StateStore is tracking.
type OpenOrder struct {
	OrderID       string
	Market        string
	Side          Side
	Price         decimal.Decimal
	SizeRemaining decimal.Decimal
	Role          Role
	SubmitTS      int64 // unix nanos, wall clock, for ledger/logging only
}

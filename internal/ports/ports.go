// Package ports defines the external interfaces the trading core consumes:
// TradingClient for order submission, MarketStream for mid-price frames, and
// AccountStream for position/fill frames. Each is satisfied by one concrete
// Hyperliquid implementation elsewhere in this module, but the core only
// ever depends on these interfaces.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/trading"
)

// Classified submit-error kinds. Exchange rejection text is never surfaced
// directly; every TradingClient implementation must map its wire errors
// onto one of these sentinels so callers react deterministically.
var (
	ErrMinNotional = errors.New("trading client: below exchange minimum notional")
	ErrCrossed     = errors.New("trading client: order would cross the book")
	ErrNonce       = errors.New("trading client: nonce collision")
	ErrRateLimited = errors.New("trading client: rate limited")
	ErrNotFound    = errors.New("trading client: order not found")
	ErrOther       = errors.New("trading client: rejected")
)

// TradingClient submits and cancels orders against one exchange account.
type TradingClient interface {
	SubmitLimit(ctx context.Context, market string, side trading.Side, price, size decimal.Decimal, postOnly bool, role trading.Role) (orderID string, err error)
	Cancel(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context, market string) (count int, err error)
}

// FrameKind discriminates MarketStream frames.
type FrameKind int

const (
	FrameMidUpdate FrameKind = iota
	FramePing
	FramePong
	FrameSubscriptionAck
	FrameError
)

// Frame is one MarketStream event.
type Frame struct {
	Kind   FrameKind
	Market string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	TS     time.Time
	Err    error
}

// MarketStream delivers a channel of mid-price frames for the requested
// subscriptions until ctx is canceled.
type MarketStream interface {
	Connect(ctx context.Context, subscriptions []string) (<-chan Frame, error)
}

// AccountFrameKind discriminates AccountStream frames.
type AccountFrameKind int

const (
	AccountFramePosition AccountFrameKind = iota
	AccountFrameFill
	AccountFrameBalance
)

// AccountFrame is one AccountStream event. Only the fields relevant to Kind
// are populated.
type AccountFrame struct {
	Kind AccountFrameKind

	Market string

	// PositionUpdate fields.
	SignedSize   decimal.Decimal
	AvgEntry     decimal.Decimal
	RealizedPnL  decimal.Decimal
	UnrealizedPnL decimal.Decimal

	// Fill fields.
	Side         trading.Side
	Role         trading.Role
	Size         decimal.Decimal
	Price        decimal.Decimal
	Fee          decimal.Decimal
	OrderID      string
	FillSequence int64

	// Balance fields.
	Balance decimal.Decimal

	TS time.Time
}

// AccountStream delivers position, fill, and balance frames with
// at-least-once delivery; consumers dedup fills by (OrderID, FillSequence).
type AccountStream interface {
	Connect(ctx context.Context) (<-chan AccountFrame, error)
}

package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-market-maker/internal/account"
	"hl-market-maker/internal/guard"
	"hl-market-maker/internal/hedger"
	"hl-market-maker/internal/ledger"
	"hl-market-maker/internal/maker"
	"hl-market-maker/internal/metrics"
	"hl-market-maker/internal/pnl"
	"hl-market-maker/internal/ports"
	"hl-market-maker/internal/tradeclient"
	"hl-market-maker/internal/trading"
)

func testMarket() trading.Market {
	return trading.Market{
		ID:                  "BTC",
		AssetID:             0,
		PriceScale:          1,
		SizeScale:           5,
		ExchangeMinSize:     decimal.NewFromFloat(0.001),
		ExchangeMinNotional: decimal.NewFromInt(10),
		TickSize:            decimal.NewFromFloat(0.1),
		LotSize:             decimal.NewFromFloat(0.00001),
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	mkt := testMarket()
	store := trading.New()
	compositor := pnl.New()
	store.SetCostBasisFunc(compositor.CostBasis)

	ledgerPath := filepath.Join(t.TempDir(), "fills.jsonl")
	fillLedger, err := ledger.Open(ledgerPath, "", 0)
	if err != nil {
		t.Fatalf("ledger open: %v", err)
	}
	t.Cleanup(func() { _ = fillLedger.Close() })

	guardEngine := guard.New(guard.Config{
		PriceBandBps:     decimal.NewFromInt(50),
		MaxPositionUnits: decimal.NewFromInt(10),
		MaxMidAge:        time.Minute,
	}, store)
	_ = guardEngine

	trader := tradeclient.New(nil, []trading.Market{mkt}, zap.NewNop())

	return &App{
		cfg:        nil,
		log:        zap.NewNop(),
		store:      store,
		ledger:     fillLedger,
		compositor: compositor,
		guard:      guardEngine,
		trader:     trader,
		markets:    []trading.Market{mkt},
		makers:     map[string]*maker.Engine{},
		hedgers:    map[string]*hedger.Hedger{},
		metrics:    metrics.NewNoop(),
	}
}

func TestRunQuoteCycleSkipsWhenPaused(t *testing.T) {
	a := newTestApp(t)
	a.setPaused(true)
	// With no makers/hedgers registered for the market this would no-op
	// either way; the assertion is that the paused flag survives the cycle.
	a.runQuoteCycle(context.Background(), time.Now())
	if !a.isPaused() {
		t.Fatalf("expected paused state to persist across a skipped cycle")
	}
}

func TestRunQuoteCycleSkipsWhenKillSwitched(t *testing.T) {
	a := newTestApp(t)
	a.store.LatchKillSwitch("test latch")
	a.runQuoteCycle(context.Background(), time.Now())
	killed, reason := a.store.KillSwitched()
	if !killed || reason != "test latch" {
		t.Fatalf("expected kill switch to remain latched with reason, got killed=%t reason=%q", killed, reason)
	}
}

func TestHandleAccountFramePositionUpdatesInventory(t *testing.T) {
	a := newTestApp(t)
	a.handleAccountFrame(context.Background(), ports.AccountFrame{
		Kind:       ports.AccountFramePosition,
		Market:     "BTC",
		SignedSize: decimal.NewFromFloat(1.5),
	})
	if got := a.store.Inventory("BTC"); !got.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("expected inventory 1.5, got %s", got.String())
	}
}

func TestHandleAccountFrameFillAppendsLedgerAndPnL(t *testing.T) {
	a := newTestApp(t)
	a.handleAccountFrame(context.Background(), ports.AccountFrame{
		Kind:    ports.AccountFrameFill,
		Market:  "BTC",
		Side:    trading.SideBid,
		Size:    decimal.NewFromInt(1),
		Price:   decimal.NewFromInt(100),
		Fee:     decimal.NewFromFloat(0.01),
		OrderID: "unknown-order",
	})
	if got := a.store.Inventory("BTC"); !got.IsZero() {
		t.Fatalf("fill frames must not themselves mutate inventory, got %s", got.String())
	}
	realized := a.compositor.Realized("BTC")
	if !realized.Equal(decimal.NewFromFloat(-0.01)) {
		t.Fatalf("expected realized pnl to reflect the opening fill's fee, got %s", realized.String())
	}
}

func TestSeedInventoryAppliesPerpPositions(t *testing.T) {
	a := newTestApp(t)
	a.seedInventory(account.State{PerpPosition: map[string]float64{"BTC": -0.25}})
	if got := a.store.Inventory("BTC"); !got.Equal(decimal.NewFromFloat(-0.25)) {
		t.Fatalf("expected seeded inventory -0.25, got %s", got.String())
	}
}

func TestPollFundingNoopsWithoutAccount(t *testing.T) {
	a := newTestApp(t)
	// newTestApp never wires an *account.Account; pollFunding must not panic
	// and must leave the cursor untouched.
	a.pollFunding(context.Background())
	if a.fundingCursorMs != 0 {
		t.Fatalf("expected funding cursor to stay at zero without an account, got %d", a.fundingCursorMs)
	}
}

func TestFloatFromDecimalRoundTrips(t *testing.T) {
	if got := floatFromDecimal(decimal.NewFromFloat(12.5)); got != 12.5 {
		t.Fatalf("expected 12.5, got %f", got)
	}
}

package guard

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/trading"
)

func baseOrder() Order {
	return Order{
		Market:              "market:1",
		Side:                trading.SideBid,
		Price:               decimal.NewFromFloat(99.99),
		Size:                decimal.NewFromFloat(0.1),
		BestBid:             decimal.NewFromFloat(99.98),
		BestAsk:             decimal.NewFromFloat(100.02),
		Mid:                 decimal.NewFromFloat(100.00),
		MidTS:               time.Now(),
		ExchangeMinSize:     decimal.NewFromFloat(0.01),
		ExchangeMinNotional: decimal.NewFromFloat(1),
	}
}

func TestCrossedBookRejectsBidAboveBestAsk(t *testing.T) {
	cfg := Config{PriceBandBps: decimal.NewFromInt(50), KillOnCrossedBook: true}
	g := New(cfg, trading.New())
	o := baseOrder()
	o.Price = decimal.NewFromFloat(100.03) // crosses best ask 100.02
	err := g.Validate(o, time.Now())
	if !errors.Is(err, ErrCrossedBook) {
		t.Fatalf("expected crossed-book rejection, got %v", err)
	}
	latched, _ := g.store.KillSwitched()
	if !latched {
		t.Fatalf("expected kill switch latched on crossed book")
	}
}

func TestBidAtTickBelowMidAllowed(t *testing.T) {
	cfg := Config{PriceBandBps: decimal.NewFromInt(50)}
	g := New(cfg, trading.New())
	o := baseOrder() // price 99.99 < bestAsk 100.02
	if err := g.Validate(o, time.Now()); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

func TestPriceBandRejectsOutsideBand(t *testing.T) {
	cfg := Config{PriceBandBps: decimal.NewFromInt(50)} // 0.5%
	g := New(cfg, trading.New())
	o := baseOrder()
	o.Price = decimal.NewFromFloat(90) // 10% away from mid 100
	o.BestAsk = decimal.NewFromFloat(200)
	err := g.Validate(o, time.Now())
	if !errors.Is(err, ErrPriceBand) {
		t.Fatalf("expected price band rejection, got %v", err)
	}
}

func TestInventoryCapBreachLatchesWhenConfigured(t *testing.T) {
	cfg := Config{
		PriceBandBps:          decimal.NewFromInt(50),
		MaxPositionUnits:      decimal.NewFromFloat(1),
		KillOnInventoryBreach: true,
	}
	g := New(cfg, trading.New())
	o := baseOrder()
	o.InventoryAfterFill = decimal.NewFromFloat(2)
	err := g.Validate(o, time.Now())
	if !errors.Is(err, ErrInventoryCap) {
		t.Fatalf("expected inventory cap rejection, got %v", err)
	}
	latched, _ := g.store.KillSwitched()
	if !latched {
		t.Fatalf("expected kill switch latched on inventory breach")
	}
}

func TestExchangeMinimaRejectBelowFloor(t *testing.T) {
	cfg := Config{PriceBandBps: decimal.NewFromInt(50)}
	g := New(cfg, trading.New())
	o := baseOrder()
	o.Size = decimal.NewFromFloat(0.001) // below ExchangeMinSize 0.01
	err := g.Validate(o, time.Now())
	if !errors.Is(err, ErrExchangeMinSize) {
		t.Fatalf("expected exchange min size rejection, got %v", err)
	}
}

func TestSyntheticMidRejected(t *testing.T) {
	cfg := Config{PriceBandBps: decimal.NewFromInt(50)}
	g := New(cfg, trading.New())
	o := baseOrder()
	o.MidSynthetic = true
	err := g.Validate(o, time.Now())
	if !errors.Is(err, ErrStaleMid) {
		t.Fatalf("expected stale-mid rejection for synthetic mid, got %v", err)
	}
}

func TestMaxMidAgeRejectsStaleMid(t *testing.T) {
	cfg := Config{PriceBandBps: decimal.NewFromInt(50), MaxMidAge: time.Second}
	g := New(cfg, trading.New())
	o := baseOrder()
	o.MidTS = time.Now().Add(-10 * time.Second)
	err := g.Validate(o, time.Now())
	if !errors.Is(err, ErrStaleMid) {
		t.Fatalf("expected stale-mid rejection for old mid, got %v", err)
	}
}

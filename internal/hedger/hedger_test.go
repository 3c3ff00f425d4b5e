package hedger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-market-maker/internal/guard"
	"hl-market-maker/internal/trading"
)

type fakeClient struct {
	submitted int
}

func (f *fakeClient) SubmitLimit(ctx context.Context, market string, side trading.Side, price, size decimal.Decimal, postOnly bool, role trading.Role) (string, error) {
	f.submitted++
	return "hedge-order", nil
}
func (f *fakeClient) Cancel(ctx context.Context, orderID string) error         { return nil }
func (f *fakeClient) CancelAll(ctx context.Context, market string) (int, error) { return 0, nil }

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestClipSizeYieldsWhenCapPrecedesMinNotionalRoundUp(t *testing.T) {
	market := trading.Market{
		ID:                  "market:1",
		LotSize:             d("0.0001"),
		ExchangeMinSize:     d("0.061"),
		ExchangeMinNotional: d("10.5"),
	}
	store := trading.New()
	g := guard.New(guard.Config{}, store)
	h := New(Config{TargetUnits: d("0.0005")}, market, store, g, &fakeClient{}, zap.NewNop())

	inv := d("0.010")
	mid := d("143.00")
	clip, err := h.ClipSize(inv, mid, false)
	if !errors.Is(err, ErrNoViableClip) {
		t.Fatalf("expected no viable clip, got clip=%s err=%v", clip, err)
	}
}

func TestEvaluateTransitionsIdleToPassiveOnTrigger(t *testing.T) {
	market := trading.Market{
		ID:                  "market:1",
		LotSize:             d("0.001"),
		TickSize:            d("0.01"),
		ExchangeMinSize:     d("0.001"),
		ExchangeMinNotional: d("1"),
	}
	store := trading.New()
	store.SetMid("market:1", d("100"), time.Now())
	store.SetBookTop("market:1", d("99.50"), d("100.50"))
	store.SetInventory("market:1", d("5"))

	g := guard.New(guard.Config{PriceBandBps: d("500")}, store)
	client := &fakeClient{}
	h := New(Config{
		TriggerUnits:        d("1"),
		TargetUnits:         d("0"),
		MaxClipUnits:        d("10"),
		PassiveOffsetBps:    d("2"),
		PassiveWaitSeconds:  1,
		AggressiveOffsetBps: d("5"),
		CooldownSeconds:     1,
	}, market, store, g, client, zap.NewNop())

	out := h.Evaluate(context.Background(), time.Now())
	if h.State() != StatePassive {
		t.Fatalf("expected Passive state, got %s", h.State())
	}
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if client.submitted != 1 {
		t.Fatalf("expected one passive submit, got %d", client.submitted)
	}
}

func TestEvaluateStaysIdleBelowTrigger(t *testing.T) {
	market := trading.Market{ID: "market:1"}
	store := trading.New()
	store.SetMid("market:1", d("100"), time.Now())
	store.SetInventory("market:1", d("0.1"))
	g := guard.New(guard.Config{}, store)
	h := New(Config{TriggerUnits: d("1")}, market, store, g, &fakeClient{}, zap.NewNop())

	out := h.Evaluate(context.Background(), time.Now())
	if h.State() != StateIdle || !out.Skipped {
		t.Fatalf("expected idle/skipped, got state=%s out=%+v", h.State(), out)
	}
}

func TestEmergencyFlattenOnKillSwitch(t *testing.T) {
	market := trading.Market{
		ID:                  "market:1",
		LotSize:             d("0.001"),
		TickSize:            d("0.01"),
		ExchangeMinSize:     d("0.001"),
		ExchangeMinNotional: d("1"),
	}
	store := trading.New()
	store.SetMid("market:1", d("100"), time.Now())
	store.SetBookTop("market:1", d("99.98"), d("100.02"))
	store.SetInventory("market:1", d("5"))
	store.LatchKillSwitch("guard test")

	g := guard.New(guard.Config{PriceBandBps: d("500")}, store)
	client := &fakeClient{}
	h := New(Config{
		TriggerUnits:            d("1"),
		TargetUnits:             d("0"),
		MaxClipUnits:            d("10"),
		AggressiveOffsetBps:     d("5"),
		EmergencyExtraBps:       d("3"),
		EmergencyClipMultiplier: d("2"),
		CooldownSeconds:         1,
	}, market, store, g, client, zap.NewNop())

	h.Evaluate(context.Background(), time.Now())
	if h.State() != StateCooldown {
		t.Fatalf("expected emergency flatten to land in cooldown after submit, got %s", h.State())
	}
	if client.submitted != 1 {
		t.Fatalf("expected one emergency submit, got %d", client.submitted)
	}
}

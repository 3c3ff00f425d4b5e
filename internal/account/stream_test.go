package account

import (
	"testing"
	"time"

	"hl-market-maker/internal/trading"
)

func TestFillSideMapsBuySellVariants(t *testing.T) {
	cases := map[string]trading.Side{
		"B":    trading.SideBid,
		"buy":  trading.SideBid,
		"BUY":  trading.SideBid,
		"A":    trading.SideAsk,
		"sell": trading.SideAsk,
		"":     trading.SideAsk,
	}
	for raw, want := range cases {
		if got := fillSide(raw); got != want {
			t.Fatalf("fillSide(%q): expected %v, got %v", raw, want, got)
		}
	}
}

func TestMillisToTimeConvertsEpochMillis(t *testing.T) {
	ms := int64(1700000000000)
	got := millisToTime(ms)
	want := time.UnixMilli(ms)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestMillisToTimeFallsBackToNowForNonPositive(t *testing.T) {
	before := time.Now()
	got := millisToTime(0)
	if got.Before(before) {
		t.Fatalf("expected millisToTime(0) to fall back to roughly now, got %s before %s", got, before)
	}
}

func TestStreamConnectRequiresAccount(t *testing.T) {
	s := NewStream(nil)
	if _, err := s.Connect(nil); err == nil {
		t.Fatalf("expected an error when the underlying account is nil")
	}
}

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/ports"
	"hl-market-maker/internal/trading"
)

type fakeStream struct {
	frames chan ports.Frame
	err    error
}

func (f *fakeStream) Connect(ctx context.Context, subscriptions []string) (<-chan ports.Frame, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.frames, nil
}

func TestHandleFrameUpdatesMidAndHeartbeat(t *testing.T) {
	store := trading.New()
	stream := &fakeStream{frames: make(chan ports.Frame, 1)}
	ig := New(stream, store, Config{Markets: []string{"BTC"}}, nil)

	ts := time.Now()
	ig.handleFrame(context.Background(), ports.Frame{
		Kind:   ports.FrameMidUpdate,
		Market: "BTC",
		Bid:    decimal.NewFromInt(100),
		Ask:    decimal.NewFromInt(102),
		TS:     ts,
	})

	mid, midTS, ok := store.Mid("BTC")
	if !ok {
		t.Fatalf("expected a mid to be recorded")
	}
	if !mid.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("expected mid 101, got %s", mid.String())
	}
	if !midTS.Equal(ts) {
		t.Fatalf("expected mid ts %s, got %s", ts, midTS)
	}
	if ig.parseErrors != 0 {
		t.Fatalf("expected parse error counter reset on a real frame")
	}
}

func TestHandleFrameErrorResubscribesAfterThreshold(t *testing.T) {
	store := trading.New()
	stream := &fakeStream{frames: make(chan ports.Frame, 1)}
	ig := New(stream, store, Config{Markets: []string{"BTC"}, ParseErrorResubscribeAt: 2}, nil)

	ig.handleFrame(context.Background(), ports.Frame{Kind: ports.FrameError, Err: errors.New("bad json")})
	if ig.parseErrors != 1 {
		t.Fatalf("expected parse error count 1, got %d", ig.parseErrors)
	}

	ig.handleFrame(context.Background(), ports.Frame{Kind: ports.FrameError, Err: errors.New("bad json")})
	if ig.parseErrors != 0 {
		t.Fatalf("expected resubscribe to reset the parse error count, got %d", ig.parseErrors)
	}
}

func TestCheckSyntheticFallbackPerturbsStaleMid(t *testing.T) {
	store := trading.New()
	stream := &fakeStream{frames: make(chan ports.Frame, 1)}
	cfg := Config{
		Markets:                []string{"BTC"},
		SyntheticThresholdSecs: 1,
	}
	ig := New(stream, store, cfg, nil)

	base := time.Now().Add(-time.Minute)
	store.SetMid("BTC", decimal.NewFromInt(100), base)
	ig.lastReal["BTC"] = base

	ig.checkSyntheticFallback(base.Add(2 * time.Second))

	mid, _, ok := store.Mid("BTC")
	if !ok {
		t.Fatalf("expected a synthetic mid to be recorded")
	}
	if mid.IsZero() {
		t.Fatalf("expected a nonzero synthetic mid")
	}
}

func TestCheckSyntheticFallbackSkipsFreshMarkets(t *testing.T) {
	store := trading.New()
	stream := &fakeStream{frames: make(chan ports.Frame, 1)}
	ig := New(stream, store, Config{Markets: []string{"BTC"}, SyntheticThresholdSecs: 30}, nil)

	now := time.Now()
	store.SetMid("BTC", decimal.NewFromInt(100), now)
	ig.lastReal["BTC"] = now

	ig.checkSyntheticFallback(now.Add(time.Second))

	mid, midTS, _ := store.Mid("BTC")
	if !mid.Equal(decimal.NewFromInt(100)) || !midTS.Equal(now) {
		t.Fatalf("expected the fresh mid to be left untouched, got %s at %s", mid, midTS)
	}
}

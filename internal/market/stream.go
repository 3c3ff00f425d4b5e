package market

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-market-maker/internal/hl/ws"
	"hl-market-maker/internal/ports"
)

// Stream is the concrete ports.MarketStream implementation: it subscribes
// to l2Book for every requested market and turns each update into a
// best-bid/best-ask Frame. Reconnect handling lives entirely in the
// underlying ws.Client; this type only knows how to decode one channel.
type Stream struct {
	ws  *ws.Client
	log *zap.Logger
}

func NewStream(wsClient *ws.Client, log *zap.Logger) *Stream {
	return &Stream{ws: wsClient, log: log}
}

func (s *Stream) Connect(ctx context.Context, subscriptions []string) (<-chan ports.Frame, error) {
	if s.ws == nil {
		return nil, errors.New("market stream: ws client is required")
	}
	if len(subscriptions) == 0 {
		return nil, errors.New("market stream: at least one subscription is required")
	}
	if err := s.ws.Connect(ctx); err != nil {
		return nil, err
	}
	for _, market := range subscriptions {
		sub := map[string]any{
			"method": "subscribe",
			"subscription": map[string]any{
				"type": "l2Book",
				"coin": market,
			},
		}
		if err := s.ws.Subscribe(ctx, sub); err != nil {
			return nil, err
		}
	}

	frames := make(chan ports.Frame, 256)
	handler := func(msg json.RawMessage) {
		frame, ok := decodeL2BookFrame(msg)
		if !ok {
			return
		}
		select {
		case frames <- frame:
		default:
			if s.log != nil {
				s.log.Warn("market stream: frame channel full, dropping update", zap.String("market", frame.Market))
			}
		}
	}
	go func() {
		defer close(frames)
		if err := s.ws.Run(ctx, handler); err != nil && ctx.Err() == nil && s.log != nil {
			s.log.Warn("market stream: run loop ended", zap.Error(err))
		}
	}()
	return frames, nil
}

func decodeL2BookFrame(msg json.RawMessage) (ports.Frame, bool) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		return ports.Frame{Kind: ports.FrameError, Err: err, TS: time.Now()}, true
	}
	channel, _ := payload["channel"].(string)
	if channel != "l2Book" {
		return ports.Frame{}, false
	}
	asset, bidStr, askStr, ok := parseL2Book(payload)
	if !ok {
		return ports.Frame{Kind: ports.FrameError, Err: errors.New("market stream: malformed l2Book frame"), TS: time.Now()}, true
	}
	bid, err := decimal.NewFromString(bidStr)
	if err != nil {
		return ports.Frame{Kind: ports.FrameError, Err: err, TS: time.Now()}, true
	}
	ask, err := decimal.NewFromString(askStr)
	if err != nil {
		return ports.Frame{Kind: ports.FrameError, Err: err, TS: time.Now()}, true
	}
	return ports.Frame{
		Kind:   ports.FrameMidUpdate,
		Market: asset,
		Bid:    bid,
		Ask:    ask,
		TS:     time.Now(),
	}, true
}

package account

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"hl-market-maker/internal/ports"
	"hl-market-maker/internal/trading"
)

// Stream is the concrete ports.AccountStream implementation: it wraps an
// Account, registers push handlers on it, and republishes position and
// fill updates as AccountFrames. Role is left zero-value on fill frames —
// only the dispatcher, via its order registry, knows whether a given
// order ID belongs to the MakerEngine or the Hedger.
type Stream struct {
	account *Account
}

func NewStream(a *Account) *Stream {
	return &Stream{account: a}
}

func (s *Stream) Connect(ctx context.Context) (<-chan ports.AccountFrame, error) {
	if s.account == nil {
		return nil, errors.New("account stream: account is required")
	}
	frames := make(chan ports.AccountFrame, 256)
	push := func(frame ports.AccountFrame) {
		select {
		case frames <- frame:
		default:
		}
	}
	s.account.SetFillHandler(func(f Fill) {
		push(ports.AccountFrame{
			Kind:         ports.AccountFrameFill,
			Market:       f.Asset,
			Side:         fillSide(f.Side),
			Size:         decimal.NewFromFloat(f.Size).Abs(),
			Price:        decimal.NewFromFloat(f.Price),
			Fee:          decimal.NewFromFloat(f.Fee),
			OrderID:      f.OrderID,
			FillSequence: f.FillSequence,
			TS:           millisToTime(f.TimeMS),
		})
	})
	s.account.SetPositionHandler(func(asset string, size float64) {
		push(ports.AccountFrame{
			Kind:       ports.AccountFramePosition,
			Market:     asset,
			SignedSize: decimal.NewFromFloat(size),
			TS:         time.Now(),
		})
	})
	if err := s.account.Start(ctx); err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		close(frames)
	}()
	return frames, nil
}

func fillSide(raw string) trading.Side {
	switch raw {
	case "B", "b", "buy", "Buy", "BUY":
		return trading.SideBid
	default:
		return trading.SideAsk
	}
}

func millisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

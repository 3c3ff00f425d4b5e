// Package ingest implements the Market Data Ingestor: it drains a
// ports.MarketStream, folds mid-price frames into the StateStore, and
// papers over outages with a bounded synthetic random walk so that the
// MakerEngine and Hedger keep exercising their logic even when the
// exchange feed goes quiet. Reconnection with backoff lives in the
// underlying transport (internal/hl/ws); this package only reacts to
// what the transport hands it.
package ingest

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-market-maker/internal/dec"
	"hl-market-maker/internal/ports"
	"hl-market-maker/internal/trading"
)

// Config holds the Ingestor's tunables.
type Config struct {
	Markets                  []string
	SyntheticThresholdSecs   float64
	SyntheticWalkMaxStepBps  decimal.Decimal
	ParseErrorResubscribeAt  int
	ReconnectAlarmAfterSecs  float64
	CheckInterval            time.Duration
}

func (c Config) withDefaults() Config {
	if c.SyntheticThresholdSecs <= 0 {
		c.SyntheticThresholdSecs = 30
	}
	if c.SyntheticWalkMaxStepBps.Sign() <= 0 {
		c.SyntheticWalkMaxStepBps = decimal.NewFromInt(5)
	}
	if c.ParseErrorResubscribeAt <= 0 {
		c.ParseErrorResubscribeAt = 3
	}
	if c.ReconnectAlarmAfterSecs <= 0 {
		c.ReconnectAlarmAfterSecs = 5 * 60
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Second
	}
	return c
}

// Ingestor drains a MarketStream and keeps the StateStore current.
type Ingestor struct {
	stream ports.MarketStream
	store  *trading.Store
	cfg    Config
	log    *zap.Logger

	lastReal      map[string]time.Time
	alarmRaised   bool
	parseErrors   int
}

func New(stream ports.MarketStream, store *trading.Store, cfg Config, log *zap.Logger) *Ingestor {
	return &Ingestor{
		stream:   stream,
		store:    store,
		cfg:      cfg.withDefaults(),
		log:      log,
		lastReal: make(map[string]time.Time),
	}
}

// Run drains the stream until ctx is canceled. It blocks; callers run it
// in its own goroutine.
func (ig *Ingestor) Run(ctx context.Context) error {
	frames, err := ig.stream.Connect(ctx, ig.cfg.Markets)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, m := range ig.cfg.Markets {
		ig.lastReal[m] = now
	}

	ticker := time.NewTicker(ig.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			ig.handleFrame(ctx, frame)
		case now := <-ticker.C:
			ig.checkSyntheticFallback(now)
		}
	}
}

func (ig *Ingestor) handleFrame(ctx context.Context, frame ports.Frame) {
	switch frame.Kind {
	case ports.FrameMidUpdate:
		ig.parseErrors = 0
		ig.alarmRaised = false
		mid := dec.Mid(frame.Bid, frame.Ask)
		ts := frame.TS
		if ts.IsZero() {
			ts = time.Now()
		}
		ig.store.SetMid(frame.Market, mid, ts)
		ig.store.SetBookTop(frame.Market, frame.Bid, frame.Ask)
		ig.store.Heartbeat("ingest:"+frame.Market, ts)
		ig.lastReal[frame.Market] = ts
	case ports.FrameError:
		ig.parseErrors++
		if ig.log != nil {
			ig.log.Warn("ingestor: frame parse error", zap.Error(frame.Err), zap.Int("consecutive", ig.parseErrors))
		}
		if ig.parseErrors >= ig.cfg.ParseErrorResubscribeAt {
			ig.resubscribe(ctx)
		}
	}
}

func (ig *Ingestor) resubscribe(ctx context.Context) {
	if ig.log != nil {
		ig.log.Warn("ingestor: resubscribing after repeated parse errors")
	}
	if _, err := ig.stream.Connect(ctx, ig.cfg.Markets); err != nil && ig.log != nil {
		ig.log.Warn("ingestor: resubscribe failed", zap.Error(err))
	}
	ig.parseErrors = 0
}

// checkSyntheticFallback synthesizes a mid for any market whose real feed
// has gone quiet for longer than SyntheticThresholdSecs, perturbing the
// last known mid by a bounded random step rather than holding it frozen.
func (ig *Ingestor) checkSyntheticFallback(now time.Time) {
	for _, market := range ig.cfg.Markets {
		last, ok := ig.lastReal[market]
		if !ok {
			continue
		}
		if now.Sub(last).Seconds() < ig.cfg.SyntheticThresholdSecs {
			continue
		}
		mid, _, hasMid := ig.store.Mid(market)
		if !hasMid || mid.Sign() <= 0 {
			continue
		}
		stepBps := decimal.NewFromFloat(rand.Float64()*2 - 1).Mul(ig.cfg.SyntheticWalkMaxStepBps)
		synthetic := mid.Mul(decimal.NewFromInt(1).Add(dec.Bps(stepBps)))
		ig.store.SetSyntheticMid(market, synthetic, now)
		ig.store.Heartbeat("ingest:"+market, now)

		if !ig.alarmRaised && now.Sub(last).Seconds() > ig.cfg.ReconnectAlarmAfterSecs {
			ig.alarmRaised = true
			if ig.log != nil {
				ig.log.Warn("ingestor: sustained outage, still synthesizing mids", zap.String("market", market), zap.Duration("outage", now.Sub(last)))
			}
		}
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-market-maker/internal/account"
	"hl-market-maker/internal/alerts"
	"hl-market-maker/internal/config"
	"hl-market-maker/internal/guard"
	"hl-market-maker/internal/hedger"
	"hl-market-maker/internal/hl/exchange"
	"hl-market-maker/internal/hl/rest"
	"hl-market-maker/internal/hl/ws"
	"hl-market-maker/internal/ingest"
	"hl-market-maker/internal/ledger"
	"hl-market-maker/internal/maker"
	"hl-market-maker/internal/maker/features"
	"hl-market-maker/internal/market"
	"hl-market-maker/internal/metrics"
	"hl-market-maker/internal/pnl"
	"hl-market-maker/internal/ports"
	"hl-market-maker/internal/state"
	"hl-market-maker/internal/state/sqlite"
	"hl-market-maker/internal/timescale"
	"hl-market-maker/internal/trading"
	"hl-market-maker/internal/tradeclient"
)

// App wires every trading-core component into the single-writer dispatcher
// the spec describes: one goroutine drains ingest/account/timer events and
// is the only caller that ever mutates the StateStore.
type App struct {
	cfg *config.Config
	log *zap.Logger

	kv       state.Store
	exClient *exchange.Client

	store      *trading.Store
	ledger     *ledger.Ledger
	compositor *pnl.Compositor
	guard      *guard.Guard
	trader     *tradeclient.Client

	marketStream  ports.MarketStream
	ingestor      *ingest.Ingestor
	account       *account.Account
	accountStream ports.AccountStream

	markets []trading.Market
	makers  map[string]*maker.Engine
	hedgers map[string]*hedger.Hedger

	metrics   *metrics.Metrics
	alerts    *alerts.Telegram
	timescale *timescale.Writer

	opsMu          sync.RWMutex
	paused         bool
	riskOverride   *config.RiskConfig
	operatorWarned bool

	fundingCursorMs int64
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	kv, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	marketWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	accountWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)

	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if walletAddress == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	accountAddress := strings.TrimSpace(os.Getenv("HL_ACCOUNT_ADDRESS"))
	if accountAddress == "" {
		accountAddress = walletAddress
	}
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	isMainnet := !strings.Contains(strings.ToLower(cfg.REST.BaseURL), "testnet")
	signer, err := exchange.NewSigner(privateKey, isMainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(walletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", walletAddress, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, vaultAddress)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)

	markets := make([]trading.Market, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		markets = append(markets, trading.Market{
			ID:                  m.ID,
			AssetID:             m.AssetID,
			PriceScale:          m.PriceScale,
			SizeScale:           m.SizeScale,
			ExchangeMinSize:     m.ExchangeMinSize,
			ExchangeMinNotional: m.ExchangeMinNotional,
			TickSize:            m.TickSize,
			LotSize:             m.LotSize,
		})
	}

	store := trading.New()
	fillLedger, err := ledger.Open(cfg.Ledger.Path, cfg.Ledger.ArchiveDir, cfg.Ledger.MaxBytes)
	if err != nil {
		return nil, err
	}
	compositor := pnl.New()
	store.SetCostBasisFunc(compositor.CostBasis)

	guardEngine := guard.New(guard.Config{
		PriceBandBps:          cfg.Guard.PriceBandBps,
		MaxPositionUnits:      cfg.Guard.MaxPositionUnits,
		MaxInventoryNotional:  cfg.Guard.MaxInventoryNotional,
		MaxMidAge:             cfg.Guard.MaxMidAge,
		KillOnCrossedBook:     cfg.Guard.KillOnCrossedBook,
		KillOnInventoryBreach: cfg.Guard.KillOnInventoryBreach,
	}, store)

	trader := tradeclient.New(exClient, markets, log)

	marketStream := market.NewStream(marketWS, log)
	subs := make([]string, 0, len(markets))
	for _, m := range markets {
		subs = append(subs, m.ID)
	}
	ingestor := ingest.New(marketStream, store, ingest.Config{
		Markets:                 subs,
		SyntheticThresholdSecs:  cfg.Ingest.SyntheticThresholdSecs,
		SyntheticWalkMaxStepBps: cfg.Ingest.SyntheticWalkMaxStepBps,
		ParseErrorResubscribeAt: cfg.Ingest.ParseErrorResubscribeAt,
		ReconnectAlarmAfterSecs: cfg.Ingest.ReconnectAlarmAfterSecs,
		CheckInterval:           cfg.Ingest.CheckInterval,
	}, log)

	acct := account.New(restClient, accountWS, log, accountAddress)
	accountStream := account.NewStream(acct)

	noopMetrics := metrics.NewNoop()
	alertsClient := alerts.NewTelegram(cfg.Telegram, log)
	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		log.Warn("timescale disabled", zap.Error(err))
		tsWriter = nil
	}

	makers := make(map[string]*maker.Engine, len(markets))
	hedgers := make(map[string]*hedger.Hedger, len(markets))
	for _, mkt := range markets {
		makerCfg := maker.Config{
			Market:              mkt,
			BaseSpreadBps:       cfg.Maker.BaseSpreadBps,
			MinSpreadBps:        cfg.Maker.MinSpreadBps,
			BaseSize:            cfg.Maker.BaseSize,
			MinSize:             cfg.Maker.MinSize,
			MaxSize:             cfg.Maker.MaxSize,
			MaxClipSize:         cfg.Maker.MaxClipSize,
			PriceEpsilon:        cfg.Maker.PriceEpsilon,
			SizeEpsilon:         cfg.Maker.SizeEpsilon,
			MaxCancelsPerMinute: cfg.Maker.MaxCancelsPerMinute,
		}
		makers[mkt.ID] = maker.New(makerCfg, store, guardEngine, trader, log, buildFeatures(cfg.Maker)...)

		hedgers[mkt.ID] = hedger.New(hedger.Config{
			TriggerUnits:             cfg.Hedger.TriggerUnits,
			TriggerNotional:          cfg.Hedger.TriggerNotional,
			TargetUnits:              cfg.Hedger.TargetUnits,
			MaxClipUnits:             cfg.Hedger.MaxClipUnits,
			PassiveOffsetBps:         cfg.Hedger.PassiveOffsetBps,
			PassiveWaitSeconds:       cfg.Hedger.PassiveWaitSeconds,
			AggressiveOffsetBps:      cfg.Hedger.AggressiveOffsetBps,
			MaxSlippageBps:           cfg.Hedger.MaxSlippageBps,
			CooldownSeconds:          cfg.Hedger.CooldownSeconds,
			EmergencyBlockSeconds:    cfg.Hedger.EmergencyBlockSeconds,
			EmergencyClipMultiplier:  cfg.Hedger.EmergencyClipMultiplier,
			EmergencyExtraBps:        cfg.Hedger.EmergencyExtraBps,
			EmergencyCooldownSeconds: cfg.Hedger.EmergencyCooldownSeconds,
		}, mkt, store, guardEngine, trader, log)
	}

	return &App{
		cfg:           cfg,
		log:           log,
		kv:            kv,
		exClient:      exClient,
		store:         store,
		ledger:        fillLedger,
		compositor:    compositor,
		guard:         guardEngine,
		trader:        trader,
		marketStream:  marketStream,
		ingestor:      ingestor,
		account:       acct,
		accountStream: accountStream,
		markets:       markets,
		makers:        makers,
		hedgers:       hedgers,
		metrics:       noopMetrics,
		alerts:        alertsClient,
		timescale:     tsWriter,
	}, nil
}

func buildFeatures(cfg config.MakerConfig) []maker.Feature {
	return []maker.Feature{
		features.NewTrend(features.TrendConfig{
			Enabled:               cfg.Trend.Enabled,
			LookbackSeconds:       cfg.Trend.LookbackSeconds,
			ThresholdBps:          cfg.Trend.ThresholdBps,
			DownThresholdBps:      cfg.Trend.DownThresholdBps,
			ResumeThresholdBps:    cfg.Trend.ResumeThresholdBps,
			ExtraSpreadBps:        cfg.Trend.ExtraSpreadBps,
			DownExtraSpreadBps:    cfg.Trend.DownExtraSpreadBps,
			DownBiasAsk:           cfg.Trend.DownBiasAsk,
			DownCooldownSeconds:   cfg.Trend.DownCooldownSeconds,
			InventorySoftCap:      cfg.Trend.InventorySoftCap,
			InventorySoftCapRatio: cfg.Trend.InventorySoftCapRatio,
		}),
		features.NewVolatility(features.VolatilityConfig{
			Enabled:              cfg.Volatility.Enabled,
			LowBps:               cfg.Volatility.LowBps,
			HighBps:              cfg.Volatility.HighBps,
			MinSpreadBps:         cfg.Volatility.MinSpreadBps,
			MaxSpreadBps:         cfg.Volatility.MaxSpreadBps,
			EMAHalflife:          cfg.Volatility.EMAHalflife,
			PauseThresholdBps:    cfg.Volatility.PauseThresholdBps,
			ResumeThresholdBps:   cfg.Volatility.ResumeThresholdBps,
			ResumeInventoryRatio: cfg.Volatility.ResumeInventoryRatio,
			InventorySoftCap:     cfg.Volatility.InventorySoftCap,
		}),
		features.NewInventory(features.InventoryConfig{
			Enabled:       cfg.Inventory.Enabled,
			ThresholdLow:  cfg.Inventory.ThresholdLow,
			ThresholdMed:  cfg.Inventory.ThresholdMed,
			ThresholdHigh: cfg.Inventory.ThresholdHigh,
			SpreadBpsLow:  cfg.Inventory.SpreadBpsLow,
			SpreadBpsMed:  cfg.Inventory.SpreadBpsMed,
			SpreadBpsHigh: cfg.Inventory.SpreadBpsHigh,
			SizeMultLow:   cfg.Inventory.SizeMultLow,
			SizeMultMed:   cfg.Inventory.SizeMultMed,
			SizeMultHigh:  cfg.Inventory.SizeMultHigh,
			AsymThreshold: cfg.Inventory.AsymThreshold,
		}),
		features.NewPnLGuard(features.PnLGuardConfig{
			Enabled:              cfg.PnLGuard.Enabled,
			RealizedFloorQuote:   cfg.PnLGuard.RealizedFloorQuote,
			TriggerConsecutive:   cfg.PnLGuard.TriggerConsecutive,
			WidenBps:             cfg.PnLGuard.WidenBps,
			MaxExtraBps:          cfg.PnLGuard.MaxExtraBps,
			SizeMultiplier:       cfg.PnLGuard.SizeMultiplier,
			MinSizeMultiplier:    cfg.PnLGuard.MinSizeMultiplier,
			CooldownSeconds:      cfg.PnLGuard.CooldownSeconds,
			CheckIntervalSeconds: cfg.PnLGuard.CheckIntervalSeconds,
			WindowSeconds:        cfg.PnLGuard.WindowSeconds,
			ReleasePolicy:        features.ReleasePolicy(cfg.PnLGuard.ReleasePolicy),
		}),
		features.NewRegime(features.RegimeConfig{
			Enabled:         cfg.Regime.Enabled,
			MinDwellSeconds: cfg.Regime.MinDwellSeconds,
			VolThresholdBps: cfg.Regime.VolThresholdBps,
		}),
	}
}

// Run starts every component and blocks on the single-writer dispatch loop
// until ctx is canceled, then runs the shutdown sequence: stop the ingestor,
// cancel every resting maker order, drain pending ledger appends with a
// bounded deadline, and return — leaving any hedger order already in flight
// uncanceled, per the shutdown semantics the Hedger's state machine assumes.
func (a *App) Run(ctx context.Context) error {
	defer a.kv.Close()
	defer a.ledger.Close()

	if a.exClient != nil && a.kv != nil {
		if err := a.exClient.InitNonceStore(ctx, a.kv); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		} else if state, ok := a.exClient.NonceState(); ok {
			a.log.Info("nonce persistence enabled", zap.String("nonce_key", state.Key), zap.Uint64("nonce_seed", state.Last))
		}
	}

	state, err := a.account.Reconcile(ctx)
	if err != nil {
		return err
	}
	a.seedInventory(*state)
	if len(state.OpenOrders) > 0 {
		a.cancelOpenOrders(ctx)
	}
	if err := a.replayLedger(); err != nil {
		return err
	}
	if err := a.account.Start(ctx); err != nil {
		return err
	}
	a.startOperator(ctx)
	a.fundingCursorMs = time.Now().UnixMilli()

	if a.timescale != nil {
		a.timescale.Start(ctx)
	}

	ingestCtx, cancelIngest := context.WithCancel(ctx)
	defer cancelIngest()
	ingestDone := make(chan error, 1)
	go func() { ingestDone <- a.ingestor.Run(ingestCtx) }()

	accountFrames, err := a.accountStream.Connect(ctx)
	if err != nil {
		return err
	}

	quoteTicker := time.NewTicker(a.cfg.Maker.QuoteInterval)
	defer quoteTicker.Stop()
	snapshotTicker := time.NewTicker(5 * time.Second)
	defer snapshotTicker.Stop()
	fundingTicker := time.NewTicker(5 * time.Minute)
	defer fundingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()
		case err := <-ingestDone:
			if err != nil && ctx.Err() == nil {
				a.log.Warn("market ingestor exited", zap.Error(err))
			}
		case frame, ok := <-accountFrames:
			if !ok {
				continue
			}
			a.handleAccountFrame(ctx, frame)
		case now := <-quoteTicker.C:
			a.runQuoteCycle(ctx, now)
		case now := <-snapshotTicker.C:
			a.writeSnapshots(now)
		case <-fundingTicker.C:
			a.pollFunding(ctx)
		}
	}
}

// pollFunding folds funding payments accrued since the last poll into the
// PnLCompositor's realized PnL, advancing fundingCursorMs past the latest
// payment seen so the next poll never double-counts.
func (a *App) pollFunding(ctx context.Context) {
	if a.account == nil || a.compositor == nil {
		return
	}
	payments, err := a.account.UserFunding(ctx, a.fundingCursorMs)
	if err != nil {
		a.log.Warn("funding poll failed", zap.Error(err))
		return
	}
	for _, p := range payments {
		if !p.HasAmount {
			continue
		}
		a.compositor.AddRealized(p.Asset, decimal.NewFromFloat(p.Amount), p.Time)
		if p.HasTime {
			if ms := p.Time.UnixMilli() + 1; ms > a.fundingCursorMs {
				a.fundingCursorMs = ms
			}
		}
	}
}

// replayLedger rebuilds the PnLCompositor from the FillLedger's full history
// (archived segments followed by the live segment, in timestamp order)
// before any live fill reaches it, so a restart's realized PnL and open lot
// queue agree bit-exact with the pre-restart run.
func (a *App) replayLedger() error {
	fills, err := a.ledger.ReadAll()
	if err != nil {
		return fmt.Errorf("ledger replay: %w", err)
	}
	for _, f := range fills {
		a.compositor.ApplyFill(f)
	}
	a.log.Info("ledger replay complete", zap.Int("fills", len(fills)))
	return nil
}

func (a *App) seedInventory(state account.State) {
	for _, mkt := range a.markets {
		if size, ok := state.PerpPosition[mkt.ID]; ok {
			a.store.SetInventory(mkt.ID, decimal.NewFromFloat(size))
		}
	}
}

func floatFromDecimal(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func (a *App) runQuoteCycle(ctx context.Context, now time.Time) {
	killed, reason := a.store.KillSwitched()
	if killed {
		a.log.Warn("kill switch engaged, skipping quote cycle", zap.String("reason", reason))
		return
	}
	if a.isPaused() {
		return
	}
	for _, mkt := range a.markets {
		snap := a.store.Snapshot(mkt.ID)
		if eng, ok := a.makers[mkt.ID]; ok {
			windowStart := now.Add(-time.Duration(a.cfg.Maker.PnLGuard.WindowSeconds * float64(time.Second)))
			eng.UpdateFeatures(maker.StateChange{
				Market:      mkt.ID,
				Mid:         snap.Mid,
				MidTS:       snap.MidTS,
				Inventory:   snap.Inventory,
				WindowedPnL: a.compositor.WindowedRealized(mkt.ID, windowStart.UnixNano(), now.UnixNano()),
				Now:         now,
			})
			outcomes := eng.RunCycle(ctx, now)
			for _, o := range outcomes {
				if o.Outcome == maker.OutcomeSubmitted {
					a.metrics.OrderSubmit.Inc()
				} else if o.Outcome == maker.OutcomeRejected {
					a.metrics.OrderReject.Inc()
				}
			}
			a.metrics.MakerCycle.Inc()
		}
		if hdg, ok := a.hedgers[mkt.ID]; ok {
			outcome := hdg.Evaluate(ctx, now)
			if !outcome.Skipped {
				a.metrics.HedgerStateChange.Inc()
			}
		}
	}
}

func (a *App) handleAccountFrame(ctx context.Context, frame ports.AccountFrame) {
	switch frame.Kind {
	case ports.AccountFramePosition:
		a.store.SetInventory(frame.Market, frame.SignedSize)
	case ports.AccountFrameFill:
		role, _ := a.trader.RoleFor(frame.OrderID)
		fill := ledger.Fill{
			TS:             frame.TS,
			Market:         frame.Market,
			Side:           frame.Side,
			Role:           role,
			Size:           frame.Size,
			Price:          frame.Price,
			Fee:            frame.Fee,
			OrderID:        frame.OrderID,
			FillSequence:   frame.FillSequence,
			InventoryAfter: a.store.Inventory(frame.Market),
		}
		if err := a.ledger.Append(fill); err != nil {
			a.log.Warn("ledger append failed", zap.Error(err))
		}
		a.compositor.ApplyFill(fill)
		a.metrics.Fill.Inc()
		if hdg, ok := a.hedgers[frame.Market]; ok {
			hdg.OnFillCleared(frame.TS)
		}
	}
}

func (a *App) writeSnapshots(now time.Time) {
	if a.timescale == nil {
		return
	}
	killed, reason := a.store.KillSwitched()
	for _, mkt := range a.markets {
		snap := a.store.Snapshot(mkt.ID)
		a.timescale.EnqueuePosition(timescale.PositionSnapshot{
			Time:          now,
			Market:        mkt.ID,
			Mid:           floatFromDecimal(snap.Mid),
			MidSynthetic:  snap.MidSynthetic,
			Inventory:     floatFromDecimal(snap.Inventory),
			AvgEntry:      floatFromDecimal(snap.AvgEntry),
			RealizedPnL:   floatFromDecimal(a.compositor.Realized(mkt.ID)),
			UnrealizedPnL: floatFromDecimal(a.compositor.Unrealized(mkt.ID, snap.Mid)),
			WindowedPnL:   floatFromDecimal(a.compositor.WindowedRealized(mkt.ID, now.Add(-time.Hour).UnixNano(), now.UnixNano())),
			OpenOrders:    len(snap.Orders),
			KillSwitched:  killed,
			KillReason:    reason,
		})
	}
}

func (a *App) cancelOpenOrders(ctx context.Context) {
	for _, mkt := range a.markets {
		if _, err := a.trader.CancelAll(ctx, mkt.ID); err != nil {
			a.log.Warn("failed to cancel resting orders on startup", zap.String("market", mkt.ID), zap.Error(err))
		}
	}
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, mkt := range a.markets {
		for _, o := range a.store.Orders(mkt.ID, "", trading.RoleMaker) {
			if err := a.trader.Cancel(shutdownCtx, o.OrderID); err != nil {
				a.log.Warn("failed to cancel maker orders on shutdown", zap.String("market", mkt.ID), zap.String("order_id", o.OrderID), zap.Error(err))
			}
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.ledger.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig    `yaml:"log"`
	REST      RESTConfig       `yaml:"rest"`
	WS        WSConfig         `yaml:"ws"`
	State     StateConfig      `yaml:"state"`
	Markets   []MarketConfig   `yaml:"markets"`
	Maker     MakerConfig      `yaml:"maker"`
	Hedger    HedgerConfig     `yaml:"hedger"`
	Guard     GuardConfig      `yaml:"guard"`
	Ledger    LedgerConfig     `yaml:"ledger"`
	Ingest    IngestConfig     `yaml:"ingest"`
	Risk      RiskConfig       `yaml:"risk"`
	Telegram  TelegramConfig   `yaml:"telegram"`
	Timescale TimescaleConfig  `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MarketConfig is the static per-market registration the spec calls the
// venue contract: asset id, decimal scales, and exchange-enforced minima.
type MarketConfig struct {
	ID                  string          `yaml:"id"`
	AssetID             int             `yaml:"asset_id"`
	PriceScale          int32           `yaml:"price_scale"`
	SizeScale           int32           `yaml:"size_scale"`
	ExchangeMinSize     decimal.Decimal `yaml:"exchange_min_size"`
	ExchangeMinNotional decimal.Decimal `yaml:"exchange_min_notional"`
	TickSize            decimal.Decimal `yaml:"tick_size"`
	LotSize             decimal.Decimal `yaml:"lot_size"`
}

// MakerConfig carries the shared quoting parameters plus every feature's
// tunables. The same values apply to every configured market.
type MakerConfig struct {
	BaseSpreadBps       decimal.Decimal `yaml:"base_spread_bps"`
	MinSpreadBps        decimal.Decimal `yaml:"min_spread_bps"`
	BaseSize            decimal.Decimal `yaml:"base_size"`
	MinSize             decimal.Decimal `yaml:"min_size"`
	MaxSize             decimal.Decimal `yaml:"max_size"`
	MaxClipSize         decimal.Decimal `yaml:"max_clip_size"`
	PriceEpsilon        decimal.Decimal `yaml:"price_epsilon"`
	SizeEpsilon         decimal.Decimal `yaml:"size_epsilon"`
	MaxCancelsPerMinute int             `yaml:"max_cancels_per_minute"`
	QuoteInterval       time.Duration   `yaml:"quote_interval"`

	Trend      TrendFeatureConfig      `yaml:"trend"`
	Volatility VolatilityFeatureConfig `yaml:"volatility"`
	Inventory  InventoryFeatureConfig  `yaml:"inventory"`
	PnLGuard   PnLGuardFeatureConfig   `yaml:"pnl_guard"`
	Regime     RegimeFeatureConfig     `yaml:"regime"`
}

type TrendFeatureConfig struct {
	Enabled               bool            `yaml:"enabled"`
	LookbackSeconds       float64         `yaml:"lookback_seconds"`
	ThresholdBps          decimal.Decimal `yaml:"threshold_bps"`
	DownThresholdBps      decimal.Decimal `yaml:"down_threshold_bps"`
	ResumeThresholdBps    decimal.Decimal `yaml:"resume_threshold_bps"`
	ExtraSpreadBps        decimal.Decimal `yaml:"extra_spread_bps"`
	DownExtraSpreadBps    decimal.Decimal `yaml:"down_extra_spread_bps"`
	DownBiasAsk           bool            `yaml:"down_bias_ask"`
	DownCooldownSeconds   float64         `yaml:"down_cooldown_seconds"`
	InventorySoftCap      decimal.Decimal `yaml:"inventory_soft_cap"`
	InventorySoftCapRatio decimal.Decimal `yaml:"inventory_soft_cap_ratio"`
}

type VolatilityFeatureConfig struct {
	Enabled              bool            `yaml:"enabled"`
	LowBps               decimal.Decimal `yaml:"low_bps"`
	HighBps              decimal.Decimal `yaml:"high_bps"`
	MinSpreadBps         decimal.Decimal `yaml:"min_spread_bps"`
	MaxSpreadBps         decimal.Decimal `yaml:"max_spread_bps"`
	EMAHalflife          time.Duration   `yaml:"ema_halflife"`
	PauseThresholdBps    decimal.Decimal `yaml:"pause_threshold_bps"`
	ResumeThresholdBps   decimal.Decimal `yaml:"resume_threshold_bps"`
	ResumeInventoryRatio decimal.Decimal `yaml:"resume_inventory_ratio"`
	InventorySoftCap     decimal.Decimal `yaml:"inventory_soft_cap"`
}

type InventoryFeatureConfig struct {
	Enabled       bool            `yaml:"enabled"`
	ThresholdLow  decimal.Decimal `yaml:"threshold_low"`
	ThresholdMed  decimal.Decimal `yaml:"threshold_med"`
	ThresholdHigh decimal.Decimal `yaml:"threshold_high"`
	SpreadBpsLow  decimal.Decimal `yaml:"spread_bps_low"`
	SpreadBpsMed  decimal.Decimal `yaml:"spread_bps_med"`
	SpreadBpsHigh decimal.Decimal `yaml:"spread_bps_high"`
	SizeMultLow   decimal.Decimal `yaml:"size_mult_low"`
	SizeMultMed   decimal.Decimal `yaml:"size_mult_med"`
	SizeMultHigh  decimal.Decimal `yaml:"size_mult_high"`
	AsymThreshold decimal.Decimal `yaml:"asym_threshold"`
}

type PnLGuardFeatureConfig struct {
	Enabled              bool            `yaml:"enabled"`
	RealizedFloorQuote   decimal.Decimal `yaml:"realized_floor_quote"`
	TriggerConsecutive   int             `yaml:"trigger_consecutive"`
	WidenBps             decimal.Decimal `yaml:"widen_bps"`
	MaxExtraBps          decimal.Decimal `yaml:"max_extra_bps"`
	SizeMultiplier       decimal.Decimal `yaml:"size_multiplier"`
	MinSizeMultiplier    decimal.Decimal `yaml:"min_size_multiplier"`
	CooldownSeconds      float64         `yaml:"cooldown_seconds"`
	CheckIntervalSeconds float64         `yaml:"check_interval_seconds"`
	WindowSeconds        float64         `yaml:"window_seconds"`
	ReleasePolicy        string          `yaml:"release_policy"`
}

type RegimeFeatureConfig struct {
	Enabled         bool            `yaml:"enabled"`
	MinDwellSeconds float64         `yaml:"min_dwell_seconds"`
	VolThresholdBps decimal.Decimal `yaml:"vol_threshold_bps"`
}

type HedgerConfig struct {
	TriggerUnits    decimal.Decimal `yaml:"trigger_units"`
	TriggerNotional decimal.Decimal `yaml:"trigger_notional"`
	TargetUnits     decimal.Decimal `yaml:"target_units"`
	MaxClipUnits    decimal.Decimal `yaml:"max_clip_units"`

	PassiveOffsetBps    decimal.Decimal `yaml:"passive_offset_bps"`
	PassiveWaitSeconds  float64         `yaml:"passive_wait_seconds"`
	AggressiveOffsetBps decimal.Decimal `yaml:"aggressive_offset_bps"`
	MaxSlippageBps      decimal.Decimal `yaml:"max_slippage_bps"`
	CooldownSeconds     float64         `yaml:"cooldown_seconds"`

	EmergencyBlockSeconds    float64         `yaml:"emergency_block_seconds"`
	EmergencyClipMultiplier  decimal.Decimal `yaml:"emergency_clip_multiplier"`
	EmergencyExtraBps        decimal.Decimal `yaml:"emergency_extra_bps"`
	EmergencyCooldownSeconds float64         `yaml:"emergency_cooldown_seconds"`
}

type GuardConfig struct {
	PriceBandBps         decimal.Decimal `yaml:"price_band_bps"`
	MaxPositionUnits     decimal.Decimal `yaml:"max_position_units"`
	MaxInventoryNotional decimal.Decimal `yaml:"max_inventory_notional"`
	MaxMidAge            time.Duration   `yaml:"max_mid_age"`

	KillOnCrossedBook     bool `yaml:"kill_on_crossed_book"`
	KillOnInventoryBreach bool `yaml:"kill_on_inventory_breach"`
}

type LedgerConfig struct {
	Path       string `yaml:"path"`
	ArchiveDir string `yaml:"archive_dir"`
	MaxBytes   int64  `yaml:"max_bytes"`
}

type IngestConfig struct {
	SyntheticThresholdSecs  float64         `yaml:"synthetic_threshold_secs"`
	SyntheticWalkMaxStepBps decimal.Decimal `yaml:"synthetic_walk_max_step_bps"`
	ParseErrorResubscribeAt int             `yaml:"parse_error_resubscribe_at"`
	ReconnectAlarmAfterSecs float64         `yaml:"reconnect_alarm_after_secs"`
	CheckInterval           time.Duration   `yaml:"check_interval"`
}

type RiskConfig struct {
	MaxNotionalUSD   float64       `yaml:"max_notional_usd"`
	MaxOpenOrders    int           `yaml:"max_open_orders"`
	MinMarginRatio   float64       `yaml:"min_margin_ratio"`
	MinHealthRatio   float64       `yaml:"min_health_ratio"`
	MaxMarketAge     time.Duration `yaml:"max_market_age"`
	MaxAccountAge    time.Duration `yaml:"max_account_age"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`

	OperatorEnabled      bool          `yaml:"operator_enabled"`
	OperatorPollInterval time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64     `yaml:"operator_allowed_user_ids"`
}

// TimescaleConfig mirrors internal/timescale.Writer's constructor needs.
type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueueSize       int           `yaml:"queue_size"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-market-maker.db"
	}
	if cfg.Maker.MaxCancelsPerMinute == 0 {
		cfg.Maker.MaxCancelsPerMinute = 20
	}
	if cfg.Maker.QuoteInterval == 0 {
		cfg.Maker.QuoteInterval = 2 * time.Second
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "data/fills.jsonl"
	}
	if cfg.Ledger.MaxBytes == 0 {
		cfg.Ledger.MaxBytes = 64 << 20
	}
	if cfg.Guard.MaxMidAge == 0 {
		cfg.Guard.MaxMidAge = 10 * time.Second
	}
	if cfg.Ingest.CheckInterval == 0 {
		cfg.Ingest.CheckInterval = time.Second
	}
	if cfg.Risk.MaxMarketAge == 0 {
		cfg.Risk.MaxMarketAge = 10 * time.Second
	}
	if cfg.Risk.MaxAccountAge == 0 {
		cfg.Risk.MaxAccountAge = 30 * time.Second
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 2 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if len(cfg.Markets) == 0 {
		return errors.New("at least one entry under markets is required")
	}
	seen := make(map[string]bool, len(cfg.Markets))
	for _, m := range cfg.Markets {
		if m.ID == "" {
			return errors.New("markets[].id is required")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate market id %s", m.ID)
		}
		seen[m.ID] = true
	}
	if cfg.Risk.MaxNotionalUSD < 0 {
		return errors.New("risk.max_notional_usd must be >= 0")
	}
	return nil
}

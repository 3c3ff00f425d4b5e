package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
markets:
  - id: BTC
    asset_id: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.REST.BaseURL != "https://api.hyperliquid.xyz" {
		t.Fatalf("unexpected rest base url: %s", cfg.REST.BaseURL)
	}
	if cfg.REST.Timeout != 10_000_000_000 {
		t.Fatalf("unexpected rest timeout: %s", cfg.REST.Timeout)
	}
	if cfg.WS.URL != "wss://api.hyperliquid.xyz/ws" {
		t.Fatalf("unexpected ws url: %s", cfg.WS.URL)
	}
	if cfg.WS.ReconnectDelay == 0 {
		t.Fatalf("expected default ws reconnect delay")
	}
	if cfg.WS.PingInterval == 0 {
		t.Fatalf("expected default ws ping interval")
	}
	if cfg.State.SQLitePath != "data/hl-market-maker.db" {
		t.Fatalf("unexpected sqlite path: %s", cfg.State.SQLitePath)
	}
	if cfg.Maker.MaxCancelsPerMinute != 20 {
		t.Fatalf("unexpected max cancels per minute: %d", cfg.Maker.MaxCancelsPerMinute)
	}
	if cfg.Maker.QuoteInterval == 0 {
		t.Fatalf("expected default quote interval")
	}
	if cfg.Ledger.Path != "data/fills.jsonl" {
		t.Fatalf("unexpected ledger path: %s", cfg.Ledger.Path)
	}
	if cfg.Ledger.MaxBytes != 64<<20 {
		t.Fatalf("unexpected ledger max bytes: %d", cfg.Ledger.MaxBytes)
	}
	if cfg.Guard.MaxMidAge == 0 {
		t.Fatalf("expected default guard max mid age")
	}
	if cfg.Ingest.CheckInterval == 0 {
		t.Fatalf("expected default ingest check interval")
	}
	if cfg.Risk.MaxMarketAge == 0 {
		t.Fatalf("expected default risk max market age")
	}
	if cfg.Risk.MaxAccountAge == 0 {
		t.Fatalf("expected default risk max account age")
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		t.Fatalf("expected default telegram operator poll interval")
	}
	if cfg.Timescale.Schema != "public" {
		t.Fatalf("unexpected timescale schema: %s", cfg.Timescale.Schema)
	}
	if cfg.Timescale.QueueSize != 256 {
		t.Fatalf("unexpected timescale queue size: %d", cfg.Timescale.QueueSize)
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
rest:
  base_url: https://example.com
markets:
  - id: BTC
    asset_id: 0
maker:
  max_cancels_per_minute: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected explicit log level to survive defaults, got %s", cfg.Log.Level)
	}
	if cfg.REST.BaseURL != "https://example.com" {
		t.Fatalf("expected explicit base url to survive defaults, got %s", cfg.REST.BaseURL)
	}
	if cfg.Maker.MaxCancelsPerMinute != 5 {
		t.Fatalf("expected explicit max cancels to survive defaults, got %d", cfg.Maker.MaxCancelsPerMinute)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadRejectsMissingMarkets(t *testing.T) {
	path := writeConfig(t, `log:
  level: info
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for config with no markets")
	}
}

func TestLoadRejectsEmptyMarketID(t *testing.T) {
	path := writeConfig(t, `
markets:
  - asset_id: 0
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for market with empty id")
	}
}

func TestLoadRejectsDuplicateMarketID(t *testing.T) {
	path := writeConfig(t, `
markets:
  - id: BTC
    asset_id: 0
  - id: BTC
    asset_id: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for duplicate market id")
	}
}

func TestLoadRejectsNegativeMaxNotional(t *testing.T) {
	path := writeConfig(t, `
markets:
  - id: BTC
    asset_id: 0
risk:
  max_notional_usd: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for negative risk.max_notional_usd")
	}
}

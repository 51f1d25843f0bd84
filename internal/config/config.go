// Package config defines all configuration for the watcher.
// Config is loaded from a JSON file (default: configs/config.json) with
// every key overridable via an upper-cased environment variable of the
// same name (e.g. MAX_SYMBOLS=40).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the JSON file
// structure; all keys are flat.
//
//   - DepthLimit:         levels requested from venue-A REST snapshots (capped at 1000 on fetch).
//   - MetricsBandPct:     half-width of the price band around mid used for imbalance sums.
//   - LargeTradeSize:     trade size at or above which a trade counts as "large".
//   - TradeWindowSec:     lookback for aggressor/large-trade metrics.
//   - MaxSymbols:         hard cap on concurrently streamed venue-A symbols.
//   - ScanIntervalSec:    how often the symbol manager rescans the universe.
//   - UniverseRefreshSec: how often the full venue listing sample is refreshed.
//   - ThresholdOrange/ThresholdGreen: alert level cutoffs on the 0-100 score.
//   - AlertCooldownSec:   minimum spacing between alerts for one key.
//   - SeedSymbols:        venue-A symbols that are always streamed, never stopped.
//   - VenueBPairs:        venue-B pairs subscribed on the shared socket.
type Config struct {
	DepthLimit         int      `mapstructure:"depth_limit"`
	MetricsBandPct     float64  `mapstructure:"metrics_band_pct"`
	LargeTradeSize     float64  `mapstructure:"large_trade_size"`
	TradeWindowSec     int      `mapstructure:"trade_window_sec"`
	MaxSymbols         int      `mapstructure:"max_symbols"`
	ScanIntervalSec    int      `mapstructure:"scan_interval_sec"`
	Port               int      `mapstructure:"port"`
	UniverseRefreshSec int      `mapstructure:"universe_refresh_sec"`
	ThresholdOrange    int      `mapstructure:"threshold_orange"`
	ThresholdGreen     int      `mapstructure:"threshold_green"`
	AlertCooldownSec   int      `mapstructure:"alert_cooldown_sec"`
	EnableGlobalScan   bool     `mapstructure:"enable_global_scan"`
	GlobalScanEverySec int      `mapstructure:"global_scan_every_sec"`
	SeedSymbols        []string `mapstructure:"seed_symbols"`
	VenueBPairs        []string `mapstructure:"venue_b_pairs"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Endpoint roots; overridable for tests, defaulted to the live venues.
	BinanceRESTURL string `mapstructure:"binance_rest_url"`
	BinanceWSURL   string `mapstructure:"binance_ws_url"`
	KrakenWSURL    string `mapstructure:"kraken_ws_url"`
}

// Load reads config from a JSON file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("depth_limit", 100)
	v.SetDefault("metrics_band_pct", 0.01)
	v.SetDefault("large_trade_size", 100000.0)
	v.SetDefault("trade_window_sec", 300)
	v.SetDefault("max_symbols", 25)
	v.SetDefault("scan_interval_sec", 600)
	v.SetDefault("port", 8080)
	v.SetDefault("universe_refresh_sec", 900)
	v.SetDefault("threshold_orange", 80)
	v.SetDefault("threshold_green", 65)
	v.SetDefault("alert_cooldown_sec", 1200)
	v.SetDefault("enable_global_scan", true)
	v.SetDefault("global_scan_every_sec", 300)
	v.SetDefault("seed_symbols", []string{"XRPUSDT"})
	v.SetDefault("venue_b_pairs", []string{"XRP/USD"})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("binance_rest_url", "https://api.binance.com")
	v.SetDefault("binance_ws_url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("kraken_ws_url", "wss://ws.kraken.com/")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DepthLimit <= 0 {
		return fmt.Errorf("depth_limit must be > 0")
	}
	if c.MetricsBandPct <= 0 || c.MetricsBandPct >= 1 {
		return fmt.Errorf("metrics_band_pct must be in (0, 1)")
	}
	if c.MaxSymbols <= 0 {
		return fmt.Errorf("max_symbols must be > 0")
	}
	if c.ScanIntervalSec <= 0 {
		return fmt.Errorf("scan_interval_sec must be > 0")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in (0, 65535]")
	}
	if c.ThresholdGreen > c.ThresholdOrange {
		return fmt.Errorf("threshold_green (%d) must not exceed threshold_orange (%d)", c.ThresholdGreen, c.ThresholdOrange)
	}
	if len(c.SeedSymbols) > c.MaxSymbols {
		return fmt.Errorf("seed_symbols (%d) exceeds max_symbols (%d)", len(c.SeedSymbols), c.MaxSymbols)
	}
	return nil
}

// TradeWindow returns the trade metrics lookback as a duration.
func (c *Config) TradeWindow() time.Duration {
	return time.Duration(c.TradeWindowSec) * time.Second
}

// ScanInterval returns the symbol-manager rescan period.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSec) * time.Second
}

// AlertCooldown returns the per-key alert spacing.
func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.AlertCooldownSec) * time.Second
}

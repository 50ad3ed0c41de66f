package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Broker: BrokerConfig{
			APIKey:    "key",
			APISecret: "secret",
		},
		Calendar: CalendarConfig{Endpoint: "https://calendar.example.com"},
		Screener: ScreenerConfig{
			MinAvgDailyVolume:  1_500_000,
			MinSharePrice:      10,
			MaxSharePrice:      400,
			MaxOptionSpread:    0.15,
			MinQuoteDepth:      20,
			MinOptionTrades:    100,
			MinIVRVRatio:       1.25,
			MinTermSlope:       0.02,
			MaxDebitToPricePct: 4.0,
			MoveThresholdPct:   8.0,
			MinStableMovePct:   70,
			CrushRatio:         0.85,
			MinCrushFreqPct:    60,
		},
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaultBaseSizePct, cfg.Allocation.BaseSizePct)
	assert.Equal(t, defaultPortfolioCapPct, cfg.Allocation.PortfolioCapPct)
	assert.Equal(t, 10*time.Minute, cfg.GetRepriceWindow())
	assert.Equal(t, 13*time.Minute, cfg.GetCancelWindow())
	assert.Equal(t, defaultLookaheadDays, cfg.Spread.LookaheadDays)
	assert.Equal(t, defaultTargetFarDTE, cfg.Spread.TargetFarDTE)
	assert.Equal(t, 100, cfg.Spread.ContractMultiplier)
	assert.Equal(t, defaultScanConcurrency, cfg.Screener.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.GetRetryBackoff())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "yolo" }, "environment.mode"},
		{"missing api key", func(c *Config) { c.Broker.APIKey = "" }, "broker.api_key"},
		{"missing api secret", func(c *Config) { c.Broker.APISecret = "" }, "broker.api_secret"},
		{"missing calendar", func(c *Config) { c.Calendar.Endpoint = "" }, "calendar.endpoint"},
		{"inverted price band", func(c *Config) { c.Screener.MinSharePrice = 500 }, "price band"},
		{"zero volume floor", func(c *Config) { c.Screener.MinAvgDailyVolume = 0 }, "min_avg_daily_volume"},
		{"bad reprice window", func(c *Config) { c.Monitor.RepriceWindow = "soon" }, "reprice_window"},
		{"windows out of order", func(c *Config) {
			c.Monitor.RepriceWindow = "13m"
			c.Monitor.CancelWindow = "10m"
		}, "monitor windows"},
		{"far dte beyond lookahead", func(c *Config) {
			c.Spread.LookaheadDays = 20
			c.Spread.TargetFarDTE = 30
		}, "target_far_dte"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "timezone"},
		{"stable move pct out of range", func(c *Config) { c.Screener.MinStableMovePct = 120 }, "min_stable_move_pct"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadExpandsEnvAndRejectsUnknownFields(t *testing.T) {
	t.Setenv("TEST_BROKER_KEY", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := strings.TrimSpace(`
environment:
  mode: paper
  log_level: info
broker:
  api_key: ${TEST_BROKER_KEY}
  api_secret: shh
calendar:
  endpoint: https://calendar.example.com
screener:
  min_avg_daily_volume: 1500000
  min_share_price: 10
  max_share_price: 400
  max_option_spread: 0.15
  min_quote_depth: 20
  min_option_trades: 100
  min_iv_rv_ratio: 1.25
  min_term_slope: 0.02
  max_debit_to_price_pct: 4.0
  move_threshold_pct: 8.0
  min_stable_move_pct: 70
  crush_ratio: 0.85
  min_crush_freq_pct: 60
`)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Broker.APIKey)
	assert.True(t, cfg.IsPaperTrading())

	unknown := yaml + "\nmystery:\n  field: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(unknown), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	assert.Error(t, err)
}

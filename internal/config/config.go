// Package config provides configuration management for the earnings
// calendar-spread bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Sizing and lifecycle defaults, used when the corresponding field is unset.
const (
	// defaultBaseSizePct is the base per-ticker allocation percentage.
	defaultBaseSizePct = 3.0
	// defaultBonusSizePct is added per optional filter passed.
	defaultBonusSizePct = 1.0
	// defaultMaxSizePct caps a single ticker's allocation.
	defaultMaxSizePct = 6.0
	// defaultPortfolioCapPct caps the sum of all allocations for a scan date.
	defaultPortfolioCapPct = 15.0
	// defaultDriftThresholdPct triggers a reprice when the market moves
	// this far (percent) from the working limit price.
	defaultDriftThresholdPct = 0.05
	// defaultExitDiscount is how far below market late exit reprices land.
	defaultExitDiscount = 0.05
	// defaultLookaheadDays bounds the expiration window for spread selection.
	defaultLookaheadDays = 60
	// defaultTargetFarDTE is the target distance of the far leg from today.
	defaultTargetFarDTE = 30
	// defaultScanConcurrency bounds parallel ticker evaluation; sized to
	// stay under the data API's per-minute limit, not for CPU parallelism.
	defaultScanConcurrency = 4
	// defaultRequestsPerMinute paces brokerage API calls.
	defaultRequestsPerMinute = 200
	// defaultRetryAttempts is the single extra attempt on HTTP 429.
	defaultRetryAttempts = 1
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Calendar    CalendarConfig    `yaml:"calendar"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Screener    ScreenerConfig    `yaml:"screener"`
	Spread      SpreadConfig      `yaml:"spread"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Allocation  AllocationConfig  `yaml:"allocation"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines brokerage API settings.
type BrokerConfig struct {
	APIKey            string `yaml:"api_key"`
	APISecret         string `yaml:"api_secret"`
	TradingEndpoint   string `yaml:"trading_endpoint"` // empty = default per mode
	DataEndpoint      string `yaml:"data_endpoint"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	RetryAttempts     int    `yaml:"retry_attempts"` // extra attempts on 429
	RetryBackoff      string `yaml:"retry_backoff"`  // duration, e.g. "2s"
}

// CalendarConfig defines the earnings-calendar data provider.
type CalendarConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// ScheduleConfig defines the exchange timezone used for scan dates.
type ScheduleConfig struct {
	Timezone string `yaml:"timezone"` // e.g., "America/New_York"
}

// ScreenerConfig defines the gatekeeper filter thresholds.
type ScreenerConfig struct {
	MinAvgDailyVolume  int64   `yaml:"min_avg_daily_volume"`
	MinSharePrice      float64 `yaml:"min_share_price"`
	MaxSharePrice      float64 `yaml:"max_share_price"`
	MaxOptionSpread    float64 `yaml:"max_option_spread"` // dollars
	MinQuoteDepth      int     `yaml:"min_quote_depth"`   // bid size + ask size
	MinOptionTrades    int64   `yaml:"min_option_trades"` // per day, ATM contract
	MinIVRVRatio       float64 `yaml:"min_iv_rv_ratio"`   // IV30 / RV30
	MinTermSlope       float64 `yaml:"min_term_slope"`    // nearIV - farIV
	MaxDebitToPricePct float64 `yaml:"max_debit_to_price_pct"`
	MoveThresholdPct   float64 `yaml:"move_threshold_pct"`  // "small move" cutoff
	MinStableMovePct   float64 `yaml:"min_stable_move_pct"` // share of past moves below cutoff
	CrushRatio         float64 `yaml:"crush_ratio"`         // post/pre IV cutoff
	MinCrushFreqPct    float64 `yaml:"min_crush_freq_pct"`  // share of past earnings crushing
	Concurrency        int     `yaml:"concurrency"`
}

// SpreadConfig defines calendar-spread construction parameters.
type SpreadConfig struct {
	LookaheadDays      int `yaml:"lookahead_days"`
	TargetFarDTE       int `yaml:"target_far_dte"`
	ContractMultiplier int `yaml:"contract_multiplier"`
}

// MonitorConfig defines the order-lifecycle policy parameters.
type MonitorConfig struct {
	DriftThresholdPct float64 `yaml:"drift_threshold_pct"`
	RepriceWindow     string  `yaml:"reprice_window"` // duration, default 10m
	CancelWindow      string  `yaml:"cancel_window"`  // duration, default 13m
	ExitDiscount      float64 `yaml:"exit_discount"`  // dollars below market
}

// AllocationConfig defines position sizing and the portfolio-wide cap.
type AllocationConfig struct {
	BaseSizePct     float64 `yaml:"base_size_pct"`
	BonusSizePct    float64 `yaml:"bonus_size_pct"`
	MaxSizePct      float64 `yaml:"max_size_pct"`
	PortfolioCapPct float64 `yaml:"portfolio_cap_pct"`
}

// StorageConfig defines storage settings for the ephemeral day state.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the optional read-only status server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.APISecret == "" {
		return fmt.Errorf("broker.api_secret is required")
	}
	if c.Calendar.Endpoint == "" {
		return fmt.Errorf("calendar.endpoint is required")
	}

	c.normalize()

	if _, err := time.ParseDuration(c.Broker.RetryBackoff); err != nil {
		return fmt.Errorf("broker.retry_backoff invalid: %w", err)
	}

	if c.Screener.MinAvgDailyVolume <= 0 {
		return fmt.Errorf("screener.min_avg_daily_volume must be > 0")
	}
	if c.Screener.MinSharePrice < 0 || c.Screener.MaxSharePrice <= c.Screener.MinSharePrice {
		return fmt.Errorf("screener price band must satisfy 0 <= min < max")
	}
	if c.Screener.MaxOptionSpread <= 0 {
		return fmt.Errorf("screener.max_option_spread must be > 0")
	}
	if c.Screener.MinIVRVRatio <= 0 {
		return fmt.Errorf("screener.min_iv_rv_ratio must be > 0")
	}
	if c.Screener.MaxDebitToPricePct <= 0 {
		return fmt.Errorf("screener.max_debit_to_price_pct must be > 0")
	}
	if c.Screener.MinStableMovePct < 0 || c.Screener.MinStableMovePct > 100 {
		return fmt.Errorf("screener.min_stable_move_pct must be between 0 and 100")
	}
	if c.Screener.MinCrushFreqPct < 0 || c.Screener.MinCrushFreqPct > 100 {
		return fmt.Errorf("screener.min_crush_freq_pct must be between 0 and 100")
	}

	if c.Spread.LookaheadDays <= 1 {
		return fmt.Errorf("spread.lookahead_days must be > 1")
	}
	if c.Spread.TargetFarDTE <= 0 || c.Spread.TargetFarDTE >= c.Spread.LookaheadDays {
		return fmt.Errorf("spread.target_far_dte must be in (0, lookahead_days)")
	}

	if c.Monitor.DriftThresholdPct <= 0 {
		return fmt.Errorf("monitor.drift_threshold_pct must be > 0")
	}
	reprice, err := time.ParseDuration(c.Monitor.RepriceWindow)
	if err != nil {
		return fmt.Errorf("monitor.reprice_window invalid: %w", err)
	}
	cancel, err := time.ParseDuration(c.Monitor.CancelWindow)
	if err != nil {
		return fmt.Errorf("monitor.cancel_window invalid: %w", err)
	}
	if reprice <= 0 || cancel <= reprice {
		return fmt.Errorf("monitor windows must satisfy 0 < reprice_window < cancel_window")
	}

	if c.Allocation.BaseSizePct <= 0 {
		return fmt.Errorf("allocation.base_size_pct must be > 0")
	}
	if c.Allocation.MaxSizePct < c.Allocation.BaseSizePct {
		return fmt.Errorf("allocation.max_size_pct must be >= base_size_pct")
	}
	if c.Allocation.PortfolioCapPct <= 0 || c.Allocation.PortfolioCapPct > 100 {
		return fmt.Errorf("allocation.portfolio_cap_pct must be in (0, 100]")
	}

	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}

	return nil
}

// normalize fills defaulted fields before validation.
func (c *Config) normalize() {
	if c.Allocation.BaseSizePct == 0 {
		c.Allocation.BaseSizePct = defaultBaseSizePct
	}
	if c.Allocation.BonusSizePct == 0 {
		c.Allocation.BonusSizePct = defaultBonusSizePct
	}
	if c.Allocation.MaxSizePct == 0 {
		c.Allocation.MaxSizePct = defaultMaxSizePct
	}
	if c.Allocation.PortfolioCapPct == 0 {
		c.Allocation.PortfolioCapPct = defaultPortfolioCapPct
	}
	if c.Monitor.DriftThresholdPct == 0 {
		c.Monitor.DriftThresholdPct = defaultDriftThresholdPct
	}
	if c.Monitor.RepriceWindow == "" {
		c.Monitor.RepriceWindow = "10m"
	}
	if c.Monitor.CancelWindow == "" {
		c.Monitor.CancelWindow = "13m"
	}
	if c.Monitor.ExitDiscount == 0 {
		c.Monitor.ExitDiscount = defaultExitDiscount
	}
	if c.Spread.LookaheadDays == 0 {
		c.Spread.LookaheadDays = defaultLookaheadDays
	}
	if c.Spread.TargetFarDTE == 0 {
		c.Spread.TargetFarDTE = defaultTargetFarDTE
	}
	if c.Spread.ContractMultiplier == 0 {
		c.Spread.ContractMultiplier = 100
	}
	if c.Screener.Concurrency == 0 {
		c.Screener.Concurrency = defaultScanConcurrency
	}
	if c.Broker.RequestsPerMinute == 0 {
		c.Broker.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.Broker.RetryAttempts == 0 {
		c.Broker.RetryAttempts = defaultRetryAttempts
	}
	if c.Broker.RetryBackoff == "" {
		c.Broker.RetryBackoff = "2s"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "day_state.json"
	}
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// ExchangeLocation returns the configured exchange timezone, defaulting to
// America/New_York with a DST-agnostic fallback for minimal containers.
func (c *Config) ExchangeLocation() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// GetRepriceWindow returns the parsed reprice window duration.
func (c *Config) GetRepriceWindow() time.Duration {
	d, err := time.ParseDuration(c.Monitor.RepriceWindow)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetCancelWindow returns the parsed cancel window duration.
func (c *Config) GetCancelWindow() time.Duration {
	d, err := time.ParseDuration(c.Monitor.CancelWindow)
	if err != nil {
		return 13 * time.Minute
	}
	return d
}

// GetRetryBackoff returns the parsed rate-limit retry backoff.
func (c *Config) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.Broker.RetryBackoff)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

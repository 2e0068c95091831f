// Package config provides configuration management for the width engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize when a value is unset.
const (
	defaultCycleInterval   = 60 * time.Second
	defaultCycleTimeout    = 60 * time.Second
	defaultPollSlice       = 500 * time.Millisecond
	defaultTimezone        = "Asia/Shanghai"
	defaultWidthThreshold  = 4.0
	defaultMaxBarAge       = 1800 * time.Second
	defaultOpenCooldown    = 60 * time.Second
	defaultOrderVolume     = 1
	defaultPriceType       = "limit"
	defaultTickSize        = 0.2
	defaultBucketInterval  = 60 * time.Second
	defaultMaxBars         = 240
	defaultMaxKeys         = 2000
	defaultQuotaPerWindow  = 2
	defaultQuotaWindow     = 60 * time.Second
	defaultMinFetchGap     = 200 * time.Millisecond
	defaultBackfillCool    = 300 * time.Second
	defaultOutputInterval  = 60 * time.Second
	defaultRefreshInterval = 300 * time.Second
	defaultTopN            = 10
	defaultGatewayTimeout  = 10 * time.Second
	defaultJournalPath     = "executions.json"
	maxWorkers             = 32
)

// Output modes.
const (
	OutputOpenDebug  = "open_debug"
	OutputCloseDebug = "close_debug"
	OutputTrade      = "trade"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Cache       CacheConfig       `yaml:"cache"`
	Products    []ProductConfig   `yaml:"products"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Output      OutputConfig      `yaml:"output"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogFile  string `yaml:"log_file"`  // optional, rotated
}

// GatewayConfig defines the host platform gateway used for bars, backup
// prices and order routing.
type GatewayConfig struct {
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
	// StreamURL is the gateway's kline websocket. Empty disables live bar
	// ingestion; option series then refresh only through backfills.
	StreamURL string `yaml:"stream_url"`
}

// ScheduleConfig defines the cycle cadence and trading sessions.
type ScheduleConfig struct {
	CycleInterval Duration `yaml:"cycle_interval"`
	CycleTimeout  Duration `yaml:"cycle_timeout"`
	PollSlice     Duration `yaml:"poll_slice"`
	Timezone      string   `yaml:"timezone"` // e.g., "Asia/Shanghai"
	Sessions      []string `yaml:"sessions"` // "HH:MM-HH:MM", end before start crosses midnight
}

// StrategyConfig defines the width strategy parameters.
type StrategyConfig struct {
	WidthThreshold float64  `yaml:"width_threshold"`
	AllowMinimal   bool     `yaml:"allow_minimal"`
	MaxBarAge      Duration `yaml:"max_bar_age"`
	MockMode       bool     `yaml:"mock_mode"`
	OpenCooldown   Duration `yaml:"open_cooldown"`
	OrderVolume    int      `yaml:"order_volume"`
	PriceType      string   `yaml:"price_type"` // limit | market
	TickSize       float64  `yaml:"tick_size"`
	Workers        int      `yaml:"workers"` // 0 = min(32, ceil(1.5*CPU))
}

// CacheConfig defines the price series cache and its read limits.
type CacheConfig struct {
	BucketInterval   Duration `yaml:"bucket_interval"`
	MaxBars          int      `yaml:"max_bars"`
	MaxKeys          int      `yaml:"max_keys"`
	QuotaPerWindow   int      `yaml:"quota_per_window"`
	QuotaWindow      Duration `yaml:"quota_window"`
	MinFetchGap      Duration `yaml:"min_fetch_gap"`
	BackfillCooldown Duration `yaml:"backfill_cooldown"`
}

// ProductConfig maps a product to its specified and next specified month.
// The pair is curated by hand; it is never derived from calendar arithmetic.
type ProductConfig struct {
	Product            string `yaml:"product"`
	Exchange           string `yaml:"exchange"`
	SpecifiedMonth     string `yaml:"specified_month"`
	NextSpecifiedMonth string `yaml:"next_specified_month"`
}

// CatalogConfig points at the instrument list supplied by the platform.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig defines the diagnostics ranking output.
type OutputConfig struct {
	Mode            string   `yaml:"mode"` // open_debug | close_debug | trade
	Interval        Duration `yaml:"interval"`
	TopN            int      `yaml:"top_n"`
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// DashboardConfig defines the diagnostics HTTP server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// StorageConfig defines storage settings for the execution journal.
type StorageConfig struct {
	JournalPath string `yaml:"journal_path"`
}

// Duration is a time.Duration that unmarshals from strings like "60s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
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

	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
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
// Unset values are filled with defaults first.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	if c.Environment.Mode == "live" && c.Gateway.Endpoint == "" {
		return fmt.Errorf("gateway.endpoint is required in live mode")
	}
	if !c.Strategy.MockMode && c.Gateway.Endpoint == "" {
		return fmt.Errorf("gateway.endpoint is required unless strategy.mock_mode is set")
	}
	if u := c.Gateway.StreamURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("gateway.stream_url must be a ws:// or wss:// address")
	}

	if c.Schedule.CycleInterval.Std() <= 0 {
		return fmt.Errorf("schedule.cycle_interval must be > 0")
	}
	if c.Schedule.CycleTimeout.Std() <= 0 {
		return fmt.Errorf("schedule.cycle_timeout must be > 0")
	}
	if c.Schedule.PollSlice.Std() <= 0 || c.Schedule.PollSlice.Std() > c.Schedule.CycleTimeout.Std() {
		return fmt.Errorf("schedule.poll_slice must be > 0 and <= cycle_timeout")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	for _, s := range c.Schedule.Sessions {
		if _, _, err := ParseSessionWindow(s); err != nil {
			return fmt.Errorf("schedule.sessions: %w", err)
		}
	}

	if c.Strategy.WidthThreshold < 0 {
		return fmt.Errorf("strategy.width_threshold must be >= 0")
	}
	if c.Strategy.MaxBarAge.Std() < 0 {
		return fmt.Errorf("strategy.max_bar_age must be >= 0")
	}
	if c.Strategy.OrderVolume <= 0 {
		return fmt.Errorf("strategy.order_volume must be > 0")
	}
	if c.Strategy.PriceType != "limit" && c.Strategy.PriceType != "market" {
		return fmt.Errorf("strategy.price_type must be 'limit' or 'market'")
	}
	if c.Strategy.TickSize <= 0 {
		return fmt.Errorf("strategy.tick_size must be > 0")
	}
	if c.Strategy.Workers < 0 || c.Strategy.Workers > maxWorkers {
		return fmt.Errorf("strategy.workers must be between 0 and %d", maxWorkers)
	}

	if c.Cache.MaxBars < 2 {
		return fmt.Errorf("cache.max_bars must be >= 2")
	}
	if c.Cache.MaxKeys <= 0 {
		return fmt.Errorf("cache.max_keys must be > 0")
	}
	if c.Cache.QuotaPerWindow <= 0 {
		return fmt.Errorf("cache.quota_per_window must be > 0")
	}

	seen := make(map[string]bool, len(c.Products))
	for i, p := range c.Products {
		if p.Product == "" || p.SpecifiedMonth == "" {
			return fmt.Errorf("products[%d]: product and specified_month are required", i)
		}
		if p.NextSpecifiedMonth == p.SpecifiedMonth {
			return fmt.Errorf("products[%d]: next_specified_month must differ from specified_month", i)
		}
		id := strings.ToUpper(p.Exchange) + "." + p.SpecifiedMonth
		if seen[id] {
			return fmt.Errorf("products[%d]: duplicate specified_month %s", i, p.SpecifiedMonth)
		}
		seen[id] = true
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	switch c.Output.Mode {
	case OutputOpenDebug, OutputCloseDebug, OutputTrade:
	default:
		return fmt.Errorf("output.mode must be one of %s, %s, %s", OutputOpenDebug, OutputCloseDebug, OutputTrade)
	}
	if c.Output.TopN <= 0 {
		return fmt.Errorf("output.top_n must be > 0")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// IsPaperTrading returns true if orders go to the in-process paper broker.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the configured exchange timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if tz == defaultTimezone {
			// Fallback for minimal containers without tzdata
			return time.FixedZone("CST", 8*60*60), nil
		}
		return nil, err
	}
	return loc, nil
}

// ParseSessionWindow parses "HH:MM-HH:MM" into minutes after midnight.
func ParseSessionWindow(s string) (start, end int, err error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("session %q must be HH:MM-HH:MM", s)
	}
	st, err1 := time.Parse("15:04", strings.TrimSpace(parts[0]))
	en, err2 := time.Parse("15:04", strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("session %q must be HH:MM-HH:MM", s)
	}
	start = st.Hour()*60 + st.Minute()
	end = en.Hour()*60 + en.Minute()
	if start == end {
		return 0, 0, fmt.Errorf("session %q is empty", s)
	}
	return start, end, nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = Duration(defaultGatewayTimeout)
	}
	if c.Schedule.CycleInterval == 0 {
		c.Schedule.CycleInterval = Duration(defaultCycleInterval)
	}
	if c.Schedule.CycleTimeout == 0 {
		c.Schedule.CycleTimeout = Duration(defaultCycleTimeout)
	}
	if c.Schedule.PollSlice == 0 {
		c.Schedule.PollSlice = Duration(defaultPollSlice)
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Strategy.WidthThreshold == 0 {
		c.Strategy.WidthThreshold = defaultWidthThreshold
	}
	if c.Strategy.MaxBarAge == 0 {
		c.Strategy.MaxBarAge = Duration(defaultMaxBarAge)
	}
	if c.Strategy.OpenCooldown == 0 {
		c.Strategy.OpenCooldown = Duration(defaultOpenCooldown)
	}
	if c.Strategy.OrderVolume == 0 {
		c.Strategy.OrderVolume = defaultOrderVolume
	}
	if c.Strategy.PriceType == "" {
		c.Strategy.PriceType = defaultPriceType
	}
	if c.Strategy.TickSize == 0 {
		c.Strategy.TickSize = defaultTickSize
	}
	if c.Cache.BucketInterval == 0 {
		c.Cache.BucketInterval = Duration(defaultBucketInterval)
	}
	if c.Cache.MaxBars == 0 {
		c.Cache.MaxBars = defaultMaxBars
	}
	if c.Cache.MaxKeys == 0 {
		c.Cache.MaxKeys = defaultMaxKeys
	}
	if c.Cache.QuotaPerWindow == 0 {
		c.Cache.QuotaPerWindow = defaultQuotaPerWindow
	}
	if c.Cache.QuotaWindow == 0 {
		c.Cache.QuotaWindow = Duration(defaultQuotaWindow)
	}
	if c.Cache.MinFetchGap == 0 {
		c.Cache.MinFetchGap = Duration(defaultMinFetchGap)
	}
	if c.Cache.BackfillCooldown == 0 {
		c.Cache.BackfillCooldown = Duration(defaultBackfillCool)
	}
	if c.Output.Mode == "" {
		c.Output.Mode = OutputCloseDebug
	}
	if c.Output.Interval == 0 {
		c.Output.Interval = Duration(defaultOutputInterval)
	}
	if c.Output.TopN == 0 {
		c.Output.TopN = defaultTopN
	}
	if c.Output.RefreshInterval == 0 {
		c.Output.RefreshInterval = Duration(defaultRefreshInterval)
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = defaultJournalPath
	}
}

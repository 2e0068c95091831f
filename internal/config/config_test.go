package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Test with example config file (should work for basic structure validation)
	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, 60*time.Second, cfg.Schedule.CycleInterval.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Schedule.PollSlice.Std())
	assert.Equal(t, 4.0, cfg.Strategy.WidthThreshold)
	assert.Len(t, cfg.Products, 3)
	assert.Equal(t, "IF2604", cfg.Products[0].NextSpecifiedMonth)
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	assert.Error(t, err)
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "\nbogus: 1\n"))
	assert.Error(t, err)
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_GATEWAY", "http://gateway.local")
	cfg, err := Parse([]byte(`
strategy:
  mock_mode: false
gateway:
  endpoint: ${TEST_GATEWAY}
catalog:
  path: catalog.yaml
`))
	require.NoError(t, err)
	assert.Equal(t, "http://gateway.local", cfg.Gateway.Endpoint)
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Environment.Mode)
	assert.Equal(t, 1800*time.Second, cfg.Strategy.MaxBarAge.Std())
	assert.Equal(t, 60*time.Second, cfg.Strategy.OpenCooldown.Std())
	assert.Equal(t, 2000, cfg.Cache.MaxKeys)
	assert.Equal(t, 2, cfg.Cache.QuotaPerWindow)
	assert.Equal(t, 200*time.Millisecond, cfg.Cache.MinFetchGap.Std())
	assert.Equal(t, OutputCloseDebug, cfg.Output.Mode)
	assert.Equal(t, "executions.json", cfg.Storage.JournalPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Environment.Mode = "demo" }, "environment.mode"},
		{"live needs gateway", func(c *Config) {
			c.Environment.Mode = "live"
			c.Gateway.Endpoint = ""
		}, "gateway.endpoint"},
		{"stream url scheme", func(c *Config) { c.Gateway.StreamURL = "http://gateway/ws" }, "gateway.stream_url"},
		{"stream url", func(c *Config) { c.Gateway.StreamURL = "wss://gateway/ws/bars" }, ""},
		{"bad session", func(c *Config) { c.Schedule.Sessions = []string{"9-10"} }, "schedule.sessions"},
		{"empty session", func(c *Config) { c.Schedule.Sessions = []string{"09:00-09:00"} }, "schedule.sessions"},
		{"bad price type", func(c *Config) { c.Strategy.PriceType = "stop" }, "strategy.price_type"},
		{"too many workers", func(c *Config) { c.Strategy.Workers = 64 }, "strategy.workers"},
		{"product without month", func(c *Config) {
			c.Products = []ProductConfig{{Product: "IF"}}
		}, "products[0]"},
		{"same months", func(c *Config) {
			c.Products = []ProductConfig{{Product: "IF", SpecifiedMonth: "IF2603", NextSpecifiedMonth: "IF2603"}}
		}, "next_specified_month"},
		{"duplicate product", func(c *Config) {
			c.Products = []ProductConfig{
				{Product: "IF", Exchange: "CFFEX", SpecifiedMonth: "IF2603"},
				{Product: "IF", Exchange: "cffex", SpecifiedMonth: "IF2603"},
			}
		}, "duplicate"},
		{"missing catalog", func(c *Config) { c.Catalog.Path = "" }, "catalog.path"},
		{"bad output mode", func(c *Config) { c.Output.Mode = "verbose" }, "output.mode"},
		{"dashboard port", func(c *Config) {
			c.Dashboard.Enabled = true
			c.Dashboard.Port = 0
		}, "dashboard.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSessionWindow(t *testing.T) {
	start, end, err := ParseSessionWindow("21:00-02:30")
	require.NoError(t, err)
	assert.Equal(t, 21*60, start)
	assert.Equal(t, 2*60+30, end)

	_, _, err = ParseSessionWindow("21:00")
	assert.Error(t, err)
}

func TestLocation_Default(t *testing.T) {
	c := &Config{}
	loc, err := c.Location()
	require.NoError(t, err)
	assert.NotNil(t, loc)
}

func TestLoad_FromTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Strategy.MockMode)
}

const minimalYAML = `
strategy:
  mock_mode: true
catalog:
  path: catalog.yaml
`

func validConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Gateway:     GatewayConfig{Endpoint: "http://localhost:9000"},
		Schedule: ScheduleConfig{
			CycleInterval: Duration(time.Minute),
			CycleTimeout:  Duration(time.Minute),
			Timezone:      "UTC",
			Sessions:      []string{"09:00-11:30", "13:30-15:00"},
		},
		Strategy: StrategyConfig{WidthThreshold: 4, PriceType: "limit", TickSize: 0.2},
		Products: []ProductConfig{
			{Product: "IF", Exchange: "CFFEX", SpecifiedMonth: "IF2603", NextSpecifiedMonth: "IF2604"},
		},
		Catalog: CatalogConfig{Path: "catalog.yaml"},
		Output:  OutputConfig{Mode: OutputTrade, TopN: 5},
	}
}

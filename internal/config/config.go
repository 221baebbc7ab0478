package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rangecompare/internal/chart"
	"rangecompare/internal/compare"
	"rangecompare/internal/series"
)

// Source kinds
const (
	SourceHomeAssistant   = "homeassistant"
	SourceHomeAssistantWS = "homeassistant_ws"
	SourceInfluxDB        = "influxdb"
	SourceMock            = "mock"
)

// Config holds all application configuration.
type Config struct {
	Entity    string `yaml:"entity"`
	Title     string `yaml:"title"`
	UnitLabel string `yaml:"unit_label"`
	Theme     string `yaml:"theme"`
	LogLevel  string `yaml:"log_level"`

	Source struct {
		Kind    string        `yaml:"kind"`
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"source"`
	Influx struct {
		URL         string `yaml:"url"`
		Token       string `yaml:"token"`
		Org         string `yaml:"org"`
		Bucket      string `yaml:"bucket"`
		Measurement string `yaml:"measurement"`
		Field       string `yaml:"field"`
	} `yaml:"influx"`
	Cache struct {
		Path   string        `yaml:"path"`
		Settle time.Duration `yaml:"settle"`
	} `yaml:"cache"`
	Normalize struct {
		Unit string  `yaml:"unit"`
		Step float64 `yaml:"step"`
	} `yaml:"normalize"`
	Ordering     string        `yaml:"ordering"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	RefreshCron  string        `yaml:"refresh_cron"`
	Server       struct {
		Listen      string   `yaml:"listen"`
		CORSOrigins []string `yaml:"cors_origins"`
		TokenHash   string   `yaml:"token_hash"`
		RateLimit   int      `yaml:"rate_limit"` // mutating requests per minute per client
	} `yaml:"server"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HASS_URL"); v != "" {
		c.Source.BaseURL = v
	}
	if v := os.Getenv("HASS_TOKEN"); v != "" {
		c.Source.Token = v
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		c.Influx.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
}

func (c *Config) applyDefaults() {
	if c.Source.Kind == "" {
		c.Source.Kind = SourceHomeAssistant
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = 30 * time.Second
	}
	if c.Influx.Field == "" {
		c.Influx.Field = "value"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "data/history_cache.db"
	}
	if c.Cache.Settle == 0 {
		c.Cache.Settle = 10 * time.Minute
	}
	if c.Normalize.Unit == "" {
		c.Normalize.Unit = string(series.Minutes)
	}
	if c.Normalize.Step == 0 {
		c.Normalize.Step = 1
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.Theme == "" {
		c.Theme = string(chart.Dark)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 60
	}
}

// Validate checks that all required fields are set and well formed.
func (c *Config) Validate() error {
	if c.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	switch c.Source.Kind {
	case SourceHomeAssistant, SourceHomeAssistantWS:
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.base_url is required for %s", c.Source.Kind)
		}
	case SourceInfluxDB:
		if c.Influx.URL == "" {
			return fmt.Errorf("influx.url is required")
		}
		if c.Influx.Org == "" || c.Influx.Bucket == "" {
			return fmt.Errorf("influx.org and influx.bucket are required")
		}
	case SourceMock:
	default:
		return fmt.Errorf("unknown source.kind %q", c.Source.Kind)
	}
	if _, err := c.Unit(); err != nil {
		return err
	}
	if c.Normalize.Step <= 0 {
		return fmt.Errorf("normalize.step must be positive")
	}
	if _, err := compare.ParseOrdering(c.Ordering); err != nil {
		return err
	}
	if _, err := chart.ParseTheme(c.Theme); err != nil {
		return err
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Cache.Settle < 0 {
		return fmt.Errorf("cache.settle must not be negative")
	}
	return nil
}

// Unit returns the parsed normalization unit
func (c *Config) Unit() (series.Unit, error) {
	return series.ParseUnit(c.Normalize.Unit)
}

// CompareOptions builds coordinator options from the config. Call Validate first.
func (c *Config) CompareOptions() (compare.Options, error) {
	unit, err := c.Unit()
	if err != nil {
		return compare.Options{}, err
	}
	ordering, err := compare.ParseOrdering(c.Ordering)
	if err != nil {
		return compare.Options{}, err
	}
	opts := compare.DefaultOptions(c.Entity)
	opts.Unit = unit
	opts.Step = c.Normalize.Step
	opts.Ordering = ordering
	opts.FetchTimeout = c.FetchTimeout
	return opts, nil
}

// ChartTheme returns the parsed theme, falling back to dark
func (c *Config) ChartTheme() chart.Theme {
	t, err := chart.ParseTheme(c.Theme)
	if err != nil {
		return chart.Dark
	}
	return t
}

// CacheEnabled reports whether a history cache should wrap the source
func (c *Config) CacheEnabled() bool {
	return !strings.EqualFold(c.Cache.Path, "off")
}

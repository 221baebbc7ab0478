package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangecompare/internal/chart"
	"rangecompare/internal/compare"
	"rangecompare/internal/series"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
entity: sensor.house_energy
title: House energy
unit_label: kWh
theme: light
source:
  kind: homeassistant_ws
  base_url: http://hass.local:8123
  token: abc
  timeout: 5s
normalize:
  unit: hours
  step: 0.5
ordering: completion
fetch_timeout: 1m
refresh_cron: "0 */5 * * * *"
cache:
  path: /tmp/cache.db
  settle: 2m
server:
  listen: ":9000"
  cors_origins: ["http://localhost:5173"]
  rate_limit: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sensor.house_energy", cfg.Entity)
	assert.Equal(t, SourceHomeAssistantWS, cfg.Source.Kind)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
	assert.Equal(t, time.Minute, cfg.FetchTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Cache.Settle)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10, cfg.Server.RateLimit)
	assert.Equal(t, chart.Light, cfg.ChartTheme())
	assert.True(t, cfg.CacheEnabled())

	opts, err := cfg.CompareOptions()
	require.NoError(t, err)
	assert.Equal(t, series.Hours, opts.Unit)
	assert.Equal(t, 0.5, opts.Step)
	assert.Equal(t, compare.OrderCompletion, opts.Ordering)
	assert.Equal(t, time.Minute, opts.FetchTimeout)
	assert.Equal(t, "sensor.house_energy", opts.EntityID)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, SourceHomeAssistant, cfg.Source.Kind)
	assert.Equal(t, "minutes", cfg.Normalize.Unit)
	assert.Equal(t, 1.0, cfg.Normalize.Step)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 60, cfg.Server.RateLimit)
	assert.Equal(t, 10*time.Minute, cfg.Cache.Settle)
	assert.Equal(t, "value", cfg.Influx.Field)
	assert.Equal(t, "info", cfg.LogLevel)

	// entity is still required
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "entity: sensor.x\nsource:\n  base_url: http://file\n")
	t.Setenv("HASS_URL", "http://env:8123")
	t.Setenv("HASS_TOKEN", "from-env")
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("CACHE_PATH", "off")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:8123", cfg.Source.BaseURL)
	assert.Equal(t, "from-env", cfg.Source.Token)
	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.CacheEnabled())
}

func TestParseError(t *testing.T) {
	path := writeConfig(t, "entity: [unterminated\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Entity: "sensor.x"}
		cfg.Source.BaseURL = "http://hass"
		cfg.applyDefaults()
		return cfg
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no entity", func(c *Config) { c.Entity = "" }},
		{"no base url", func(c *Config) { c.Source.BaseURL = "" }},
		{"unknown kind", func(c *Config) { c.Source.Kind = "graphite" }},
		{"influx without bucket", func(c *Config) {
			c.Source.Kind = SourceInfluxDB
			c.Influx.URL = "http://influx"
			c.Influx.Org = "home"
		}},
		{"bad unit", func(c *Config) { c.Normalize.Unit = "fortnight" }},
		{"negative step", func(c *Config) { c.Normalize.Step = -1 }},
		{"bad ordering", func(c *Config) { c.Ordering = "random" }},
		{"bad theme", func(c *Config) { c.Theme = "sepia" }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	mock := base()
	mock.Source.Kind = SourceMock
	mock.Source.BaseURL = ""
	assert.NoError(t, mock.Validate())
}

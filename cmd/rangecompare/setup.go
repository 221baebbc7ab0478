package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"rangecompare/internal/config"
	"rangecompare/internal/history"
	"rangecompare/internal/metrics"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// buildSource creates the configured history source, wrapped with the cache
// and fetch timing. The returned func releases the source's resources.
func buildSource(cfg *config.Config, m *metrics.Metrics) (history.Source, func(), error) {
	var src history.Source
	var closers []func() error

	switch cfg.Source.Kind {
	case config.SourceHomeAssistant:
		src = history.NewHassClient(cfg.Source.BaseURL, cfg.Source.Token, cfg.Source.Timeout)
	case config.SourceHomeAssistantWS:
		ws, err := history.NewHassSocket(cfg.Source.BaseURL, cfg.Source.Token, cfg.Source.Timeout)
		if err != nil {
			return nil, nil, err
		}
		src = ws
	case config.SourceInfluxDB:
		influx := history.NewInfluxSource(history.InfluxConfig{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
			Field:       cfg.Influx.Field,
		})
		closers = append(closers, influx.Close)
		src = influx
	case config.SourceMock:
		log.Info("using synthetic history data")
		src = history.NewSyntheticSource()
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}

	if m != nil {
		src = m.Instrument(src)
	}

	if cfg.CacheEnabled() {
		cache, err := history.NewCache(cfg.Cache.Path)
		if err != nil {
			log.WithError(err).Warn("history cache unavailable, fetching uncached")
		} else {
			closers = append(closers, cache.Close)
			src = history.NewCachedSource(src, cache, cfg.Cache.Settle)
		}
	}

	log.WithField("source", src.Name()).Info("history source ready")
	return src, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.WithError(err).Warn("close history source")
			}
		}
	}, nil
}

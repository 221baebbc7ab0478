package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rangecompare/internal/history"
	"rangecompare/internal/series"
)

// Metrics holds the collectors exported by the service
type Metrics struct {
	Fetches       *prometheus.CounterVec
	StaleResults  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	Samples       *prometheus.GaugeVec
	HTTPRequests  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rangecompare_fetch_total",
				Help: "History fetches applied to a slot, labeled by slot and outcome.",
			},
			[]string{"slot", "outcome"},
		),
		StaleResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rangecompare_fetch_stale_total",
				Help: "Fetch results discarded because a newer selection superseded them.",
			},
			[]string{"slot"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rangecompare_fetch_duration_seconds",
				Help:    "Duration of history source fetches.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		Samples: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rangecompare_samples",
				Help: "Samples currently held per slot.",
			},
			[]string{"slot"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rangecompare_http_requests_total",
				Help: "Total HTTP requests processed, labeled by status code and method.",
			},
			[]string{"code", "method"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Fetches, m.StaleResults, m.FetchDuration, m.Samples, m.HTTPRequests)
	}
	return m
}

// timedSource observes the duration of every fetch
type timedSource struct {
	history.Source
	hist *prometheus.HistogramVec
}

// Instrument wraps source so each fetch is recorded in FetchDuration
func (m *Metrics) Instrument(source history.Source) history.Source {
	return &timedSource{Source: source, hist: m.FetchDuration}
}

func (t *timedSource) Fetch(ctx context.Context, entityID string, from, to time.Time) ([]series.RawSample, error) {
	start := time.Now()
	defer func() {
		t.hist.WithLabelValues(t.Source.Name()).Observe(time.Since(start).Seconds())
	}()
	return t.Source.Fetch(ctx, entityID, from, to)
}

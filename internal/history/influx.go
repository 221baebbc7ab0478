package history

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"rangecompare/internal/series"
)

// InfluxConfig describes where entity series live in InfluxDB.
// The defaults match the Home Assistant InfluxDB integration layout.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string // optional; empty matches any measurement
	Field       string // defaults to "value"
	EntityTag   string // defaults to "entity_id"
}

// InfluxSource reads entity history with a Flux query
type InfluxSource struct {
	cfg    InfluxConfig
	client influxdb2.Client
}

// NewInfluxSource creates an InfluxDB history source
func NewInfluxSource(cfg InfluxConfig) *InfluxSource {
	if cfg.Field == "" {
		cfg.Field = "value"
	}
	if cfg.EntityTag == "" {
		cfg.EntityTag = "entity_id"
	}
	return &InfluxSource{
		cfg:    cfg,
		client: influxdb2.NewClient(cfg.URL, cfg.Token),
	}
}

func (s *InfluxSource) Name() string { return "influxdb" }

// Close releases the underlying client
func (s *InfluxSource) Close() error {
	s.client.Close()
	return nil
}

// Fetch runs the range query and collects (time, value) pairs
func (s *InfluxSource) Fetch(ctx context.Context, entityID string, from, to time.Time) ([]series.RawSample, error) {
	query := s.buildQuery(entityID, from, to)

	result, err := s.client.QueryAPI(s.cfg.Org).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("influx query failed: %w", err)
	}
	defer result.Close()

	samples := []series.RawSample{}
	for result.Next() {
		record := result.Record()
		samples = append(samples, series.RawSample{
			Timestamp: record.Time(),
			Value:     toFloat(record.Value()),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error parsing influx result: %w", result.Err())
	}

	sortSamples(samples)
	return samples, nil
}

// buildQuery renders the Flux query; [from, to) maps onto range(start, stop)
func (s *InfluxSource) buildQuery(entityID string, from, to time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", s.cfg.Bucket)
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if s.cfg.Measurement != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", s.cfg.Measurement)
	}
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r.%s == %q and r._field == %q)\n", s.cfg.EntityTag, influxEntity(entityID), s.cfg.Field)
	b.WriteString("  |> sort(columns: [\"_time\"])\n")
	return b.String()
}

// influxEntity strips the domain: the Home Assistant integration stores
// sensor.kitchen_power under entity_id="kitchen_power"
func influxEntity(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case string:
		return series.ParseValue(n)
	default:
		return math.NaN()
	}
}

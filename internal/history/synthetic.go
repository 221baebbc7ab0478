package history

import (
	"context"
	"math"
	"time"

	"rangecompare/internal/series"
)

// SyntheticSource generates a deterministic daily load curve, for running
// without a Home Assistant or InfluxDB instance
type SyntheticSource struct {
	Interval time.Duration // spacing between samples, default 5m
	Base     float64       // mean power
	Swing    float64       // amplitude of the daily cycle
}

func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{Interval: 5 * time.Minute, Base: 1.2, Swing: 0.8}
}

func (s *SyntheticSource) Name() string { return "synthetic" }

// Fetch returns cumulative energy over [from, to). Values depend only on the
// timestamp, so the same range always yields the same series.
func (s *SyntheticSource) Fetch(ctx context.Context, entityID string, from, to time.Time) ([]series.RawSample, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if !to.After(from) {
		return []series.RawSample{}, nil
	}

	start := from.Truncate(interval)
	if start.Before(from) {
		start = start.Add(interval)
	}
	out := make([]series.RawSample, 0, int(to.Sub(start)/interval)+1)
	for ts := start; ts.Before(to); ts = ts.Add(interval) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, series.RawSample{Timestamp: ts, Value: s.energyAt(ts)})
	}
	return out, nil
}

// energyAt integrates Base + Swing*sin(2*pi*t/day) from the epoch, in kWh
func (s *SyntheticSource) energyAt(ts time.Time) float64 {
	hours := float64(ts.Unix()) / 3600
	w := 2 * math.Pi / 24
	return s.Base*hours + s.Swing*(1-math.Cos(w*hours))/w
}

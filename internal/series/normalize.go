package series

import (
	"fmt"
	"math"
	"time"
)

// Normalize rebases samples onto a relative time axis anchored at the first
// finite sample. Non-finite values are dropped first; the remaining samples
// are neither reordered nor resampled, so out-of-order input yields negative X.
func Normalize(samples []RawSample, unit Unit, step float64) ([]Sample, error) {
	if !unit.Valid() {
		return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidArgument, unit)
	}
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("%w: step must be a positive number, got %v", ErrInvalidArgument, step)
	}

	kept := Finite(samples)
	if len(kept) == 0 {
		return []Sample{}, nil
	}

	base := kept[0].Timestamp
	scale := unit.Millis() * step

	out := make([]Sample, len(kept))
	for i, s := range kept {
		elapsedMs := float64(s.Timestamp.Sub(base)) / float64(time.Millisecond)
		out[i] = Sample{
			X:    elapsedMs / scale,
			Y:    s.Value,
			Date: s.Timestamp,
		}
	}
	return out, nil
}

// Baseline returns a copy of samples with every Y expressed relative to the
// first sample's Y. It is a one-shot transform: a second pass only leaves the
// series unchanged because the first Y is already zero.
func Baseline(samples []Sample) []Sample {
	out := make([]Sample, len(samples))
	if len(samples) == 0 {
		return out
	}

	y0 := samples[0].Y
	for i, s := range samples {
		out[i] = Sample{X: s.X, Y: s.Y - y0, Date: s.Date}
	}
	return out
}

// Clone returns an independent copy of samples; nil becomes an empty slice
func Clone(samples []Sample) []Sample {
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}

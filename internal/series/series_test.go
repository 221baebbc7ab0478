package series

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func raw(offset time.Duration, v float64) RawSample {
	return RawSample{Timestamp: t0.Add(offset), Value: v}
}

func xs(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.X
	}
	return out
}

func ys(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Y
	}
	return out
}

func TestNormalizeMinutes(t *testing.T) {
	in := []RawSample{
		raw(0, 10),
		raw(time.Minute, 15),
		raw(2*time.Minute, 12),
	}

	norm, err := Normalize(in, Minutes, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, xs(norm))
	assert.Equal(t, []float64{10, 15, 12}, ys(norm))
	assert.Equal(t, in[1].Timestamp, norm[1].Date)

	based := Baseline(norm)
	assert.Equal(t, []float64{0, 5, 2}, ys(based))
	assert.Equal(t, []float64{0, 1, 2}, xs(based))
}

func TestNormalizeUnitsAndStep(t *testing.T) {
	in := []RawSample{raw(0, 1), raw(90*time.Minute, 2)}

	tests := []struct {
		name string
		unit Unit
		step float64
		want float64
	}{
		{"milliseconds", Milliseconds, 1, 5400000},
		{"seconds", Seconds, 1, 5400},
		{"minutes half step", Minutes, 0.5, 180},
		{"hours", Hours, 1, 1.5},
		{"hours step 3", Hours, 3, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm, err := Normalize(in, tt.unit, tt.step)
			require.NoError(t, err)
			require.Len(t, norm, 2)
			assert.Equal(t, 0.0, norm[0].X)
			assert.InDelta(t, tt.want, norm[1].X, 1e-9)
		})
	}
}

func TestNormalizeEmpty(t *testing.T) {
	norm, err := Normalize(nil, Minutes, 1)
	require.NoError(t, err)
	assert.Empty(t, norm)

	norm, err = Normalize([]RawSample{raw(0, math.NaN())}, Minutes, 1)
	require.NoError(t, err)
	assert.Empty(t, norm)

	assert.Empty(t, Baseline(nil))
	assert.NotPanics(t, func() { Baseline([]Sample{}) })
}

func TestNormalizeDropsNonFinite(t *testing.T) {
	in := []RawSample{
		raw(0, math.NaN()),
		raw(time.Minute, 4),
		raw(2*time.Minute, math.Inf(1)),
		raw(3*time.Minute, 7),
	}

	norm, err := Normalize(in, Minutes, 1)
	require.NoError(t, err)
	require.Len(t, norm, 2)
	// anchored at the first kept sample, not the dropped one
	assert.Equal(t, []float64{0, 2}, xs(norm))
	for _, s := range norm {
		assert.False(t, math.IsNaN(s.Y) || math.IsInf(s.Y, 0))
	}
}

func TestNormalizeOutOfOrder(t *testing.T) {
	in := []RawSample{raw(2*time.Minute, 1), raw(0, 2), raw(time.Minute, 3)}

	norm, err := Normalize(in, Minutes, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, -2, -1}, xs(norm))
}

func TestNormalizeInvalidArguments(t *testing.T) {
	in := []RawSample{raw(0, 1)}

	for _, step := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := Normalize(in, Minutes, step)
		assert.True(t, errors.Is(err, ErrInvalidArgument), "step %v", step)
	}

	_, err := Normalize(in, Unit("fortnights"), 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// rejected even when there is nothing to normalize
	_, err = Normalize(nil, Minutes, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := []RawSample{raw(0, 3), raw(time.Minute, math.NaN()), raw(2*time.Minute, 5)}
	before := append([]RawSample(nil), in...)

	_, err := Normalize(in, Seconds, 1)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(in))
	assert.Equal(t, before[0], in[0])
	assert.True(t, math.IsNaN(in[1].Value))
	assert.Equal(t, before[2], in[2])
}

func TestBaselineIsOneShot(t *testing.T) {
	norm := []Sample{{X: 0, Y: 20}, {X: 1, Y: 25}, {X: 2, Y: 18}}

	once := Baseline(norm)
	assert.Equal(t, []float64{0, 5, -2}, ys(once))
	// input untouched
	assert.Equal(t, []float64{20, 25, 18}, ys(norm))

	// already zeroed at the first point, so a second pass changes nothing
	twice := Baseline(once)
	assert.Equal(t, once, twice)
}

func TestBaselineFirstPointZero(t *testing.T) {
	in := []RawSample{raw(0, -3.5), raw(30*time.Second, 1), raw(time.Hour, 100)}
	norm, err := Normalize(in, Minutes, 1)
	require.NoError(t, err)

	based := Baseline(norm)
	assert.Equal(t, 0.0, based[0].X)
	assert.Equal(t, 0.0, based[0].Y)
}

func TestParseUnit(t *testing.T) {
	tests := map[string]Unit{
		"minute":  Minutes,
		"Minutes": Minutes,
		"s":       Seconds,
		"hours":   Hours,
		" ms ":    Milliseconds,
	}
	for in, want := range tests {
		got, err := ParseUnit(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseUnit("days")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 12.5, ParseValue("12.5"))
	assert.Equal(t, -3.0, ParseValue(" -3 "))
	assert.True(t, math.IsNaN(ParseValue("unavailable")))
	assert.True(t, math.IsNaN(ParseValue("")))
	assert.True(t, math.IsNaN(ParseValue("inf")))
}

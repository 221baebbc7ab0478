package series

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidArgument marks caller defects: a non-positive step or an unknown unit
var ErrInvalidArgument = errors.New("invalid argument")

// RawSample is a single history point as delivered by a history source.
// Value is NaN when the source state could not be parsed as a number.
type RawSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Sample is a point on the relative time axis.
// X is elapsed time since the first sample of its series in units of (unit * step).
type Sample struct {
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Date time.Time `json:"date"`
}

// Unit is the time unit the X axis is expressed in
type Unit string

const (
	Milliseconds Unit = "milliseconds"
	Seconds      Unit = "seconds"
	Minutes      Unit = "minutes"
	Hours        Unit = "hours"
)

// Millis returns the size of the unit in milliseconds, or 0 for an unknown unit
func (u Unit) Millis() float64 {
	switch u {
	case Milliseconds:
		return 1
	case Seconds:
		return 1000
	case Minutes:
		return 60 * 1000
	case Hours:
		return 60 * 60 * 1000
	default:
		return 0
	}
}

// Valid reports whether u is one of the recognised units
func (u Unit) Valid() bool {
	return u.Millis() > 0
}

// ParseUnit maps user spellings (singular, plural, short) onto a Unit
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ms", "millisecond", "milliseconds":
		return Milliseconds, nil
	case "s", "sec", "second", "seconds":
		return Seconds, nil
	case "m", "min", "minute", "minutes":
		return Minutes, nil
	case "h", "hour", "hours":
		return Hours, nil
	}
	return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidArgument, s)
}

// ParseValue parses a raw sensor state. Anything that is not a finite
// number (unavailable, unknown, empty) yields NaN.
func ParseValue(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Finite returns the samples whose value is a finite number, preserving order
func Finite(samples []RawSample) []RawSample {
	out := make([]RawSample, 0, len(samples))
	for _, s := range samples {
		if finite(s.Value) {
			out = append(out, s)
		}
	}
	return out
}

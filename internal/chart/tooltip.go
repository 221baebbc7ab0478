package chart

import (
	"fmt"
	"strings"

	"rangecompare/internal/compare"
	"rangecompare/internal/series"
)

// TooltipLine is one row of the shared tooltip
type TooltipLine struct {
	Label string `json:"label"`
	Text  string `json:"text"`
	Color string `json:"color"`
}

// Tooltip is the synchronized readout of both ranges at one sample index.
// A range contributes only when it has a sample at Index; Delta is set only
// when both do.
type Tooltip struct {
	Index      int           `json:"index"`
	Range1     *float64      `json:"range1,omitempty"`
	Range2     *float64      `json:"range2,omitempty"`
	Delta      *float64      `json:"delta,omitempty"`
	Background string        `json:"background"`
	Lines      []TooltipLine `json:"lines"`
}

// Empty reports whether neither range has a sample at the index
func (t Tooltip) Empty() bool {
	return t.Range1 == nil && t.Range2 == nil
}

// TooltipAt builds the tooltip for sample index of state. Zero is a real
// value and is shown like any other.
func TooltipAt(state compare.State, index int, unit string, pal Palette) Tooltip {
	if unit == "" {
		unit = fallbackUnit
	}
	tip := Tooltip{Index: index, Background: pal.TooltipBackground, Lines: []TooltipLine{}}

	var values [2]*float64
	for _, slot := range compare.Slots {
		s := state.Series(slot)
		if index < 0 || index >= len(s) {
			continue
		}
		v := s[index].Y
		values[slot] = &v
		tip.Lines = append(tip.Lines, TooltipLine{
			Label: slot.Label(),
			Text:  fmt.Sprintf("%s: %s", slot.Label(), FormatValue(v, unit)),
			Color: pal.Color(slot),
		})
	}
	tip.Range1, tip.Range2 = values[compare.Range1], values[compare.Range2]

	if tip.Range1 != nil && tip.Range2 != nil {
		d := *tip.Range2 - *tip.Range1
		tip.Delta = &d
		tip.Lines = append(tip.Lines, TooltipLine{
			Label: "Delta",
			Text:  fmt.Sprintf("Δ: %s %s", signed(d), unit),
			Color: pal.Delta,
		})
	}
	return tip
}

// Tooltip builds the tooltip at index from the options' own series
func (o Options) Tooltip(index int) Tooltip {
	var state compare.State
	for _, slot := range compare.Slots {
		samples := make([]series.Sample, len(o.Series[slot].Data))
		for i, p := range o.Series[slot].Data {
			samples[i] = series.Sample{X: p.X, Y: p.Y}
		}
		if slot == compare.Range1 {
			state.Series1 = samples
		} else {
			state.Series2 = samples
		}
	}
	return TooltipAt(state, index, o.Unit, o.Palette)
}

// signed formats d with two decimals and a leading + when the rounded value is positive
func signed(d float64) string {
	s := fixed(d)
	if s != "0.00" && !strings.HasPrefix(s, "-") {
		return "+" + s
	}
	return s
}

package chart

import (
	"fmt"
	"strings"

	"rangecompare/internal/compare"
	"rangecompare/internal/series"
)

// Theme selects a palette
type Theme string

const (
	Dark  Theme = "dark"
	Light Theme = "light"
)

// ParseTheme maps a config or query value onto a Theme; empty means Dark
func ParseTheme(v string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(v))) {
	case "", Dark:
		return Dark, nil
	case Light:
		return Light, nil
	}
	return "", fmt.Errorf("%w: unknown theme %q", series.ErrInvalidArgument, v)
}

// Palette holds the colors a renderer needs for one theme
type Palette struct {
	ChartBackground   string `json:"chart_background"`
	TooltipBackground string `json:"tooltip_background"`
	Range1            string `json:"range1"`
	Range2            string `json:"range2"`
	Delta             string `json:"delta"`
	Label             string `json:"label"`
}

var (
	darkPalette = Palette{
		ChartBackground:   "#181818",
		TooltipBackground: "rgba(30, 30, 30, 0.95)",
		Range1:            "#1E80EF",
		Range2:            "#DF3500",
		Delta:             "white",
		Label:             "white",
	}
	lightPalette = Palette{
		ChartBackground:   "#CCCCCC",
		TooltipBackground: "rgba(224, 224, 224, 0.95)",
		Range1:            "#1E90FF",
		Range2:            "#FF4500",
		Delta:             "black",
		Label:             "black",
	}
)

// PaletteFor returns the palette of t. Unknown themes get the dark palette.
func PaletteFor(t Theme) Palette {
	if t == Light {
		return lightPalette
	}
	return darkPalette
}

// Color returns the line color of slot
func (p Palette) Color(slot compare.Slot) string {
	if slot == compare.Range2 {
		return p.Range2
	}
	return p.Range1
}

// Point is one plotted value
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Series is one named line
type Series struct {
	Name  string  `json:"name"`
	Color string  `json:"color"`
	Data  []Point `json:"data"`
}

// Axis describes how an axis is labelled
type Axis struct {
	Type       string   `json:"type"`
	Min        *float64 `json:"min,omitempty"`
	ShowLabels bool     `json:"show_labels"`
}

// Options is everything a renderer needs to draw the comparison. It is
// rebuilt by Build on every state or theme change and never edited in place.
type Options struct {
	Title   string    `json:"title"`
	Unit    string    `json:"unit"`
	Theme   Theme     `json:"theme"`
	Palette Palette   `json:"palette"`
	Height  int       `json:"height"`
	XAxis   Axis      `json:"xaxis"`
	YAxis   Axis      `json:"yaxis"`
	Series  [2]Series `json:"series"`
	Version uint64    `json:"version"`
}

// DefaultHeight is the chart height in pixels
const DefaultHeight = 350

// fallbackUnit is shown when the entity has no unit of measurement
const fallbackUnit = "units"

// Build derives chart options from a comparison state
func Build(state compare.State, theme Theme, title, unit string) Options {
	if unit == "" {
		unit = fallbackUnit
	}
	pal := PaletteFor(theme)
	if theme != Light {
		theme = Dark
	}

	zero := 0.0
	opts := Options{
		Title:   title,
		Unit:    unit,
		Theme:   theme,
		Palette: pal,
		Height:  DefaultHeight,
		XAxis:   Axis{Type: "numeric", Min: &zero, ShowLabels: false},
		YAxis:   Axis{Type: "numeric", ShowLabels: true},
		Version: state.Version,
	}
	for _, slot := range compare.Slots {
		opts.Series[slot] = Series{
			Name:  slot.Label(),
			Color: pal.Color(slot),
			Data:  points(state.Series(slot)),
		}
	}
	return opts
}

func points(samples []series.Sample) []Point {
	out := make([]Point, len(samples))
	for i, s := range samples {
		out[i] = Point{X: s.X, Y: s.Y}
	}
	return out
}

// FormatValue renders v with two decimals and the unit, as the y axis shows it
func FormatValue(v float64, unit string) string {
	if unit == "" {
		unit = fallbackUnit
	}
	return fmt.Sprintf("%s %s", fixed(v), unit)
}

// fixed formats with two decimals and never yields "-0.00"
func fixed(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}

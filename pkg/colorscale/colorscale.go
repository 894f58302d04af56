// Package colorscale maps relative deviations onto the blue→yellow→red
// diverging ramp used by the map and its legend. The scale is symmetric
// around zero and values are clipped to its range before interpolation,
// so outliers saturate at the end colors.
package colorscale

import (
	"fmt"
	"image/color"
)

// Ramp endpoints. Blue marks territories under target, pale yellow on
// target, red over target.
var (
	Under = color.RGBA{0x2C, 0x7B, 0xB6, 0xFF} // blue
	Even  = color.RGBA{0xFF, 0xFF, 0xBF, 0xFF} // pale yellow
	Over  = color.RGBA{0xD7, 0x19, 0x1C, 0xFF} // red
)

// Scale is a symmetric diverging color scale over [-MaxAbs, +MaxAbs].
type Scale struct {
	MaxAbs float64
}

// Symmetric builds a scale with the given half-range. A non-positive
// half-range collapses to a degenerate scale that always yields the
// midpoint color; callers normally pass balance.ScaleMax, which is
// floored at 0.10.
func Symmetric(maxAbs float64) Scale {
	if maxAbs < 0 {
		maxAbs = -maxAbs
	}
	return Scale{MaxAbs: maxAbs}
}

// Clip bounds v to [-MaxAbs, +MaxAbs].
func (s Scale) Clip(v float64) float64 {
	if v < -s.MaxAbs {
		return -s.MaxAbs
	}
	if v > s.MaxAbs {
		return s.MaxAbs
	}
	return v
}

// Color interpolates the ramp at v after clipping. Negative values blend
// blue→yellow, positive ones yellow→red.
func (s Scale) Color(v float64) color.RGBA {
	if s.MaxAbs == 0 {
		return Even
	}
	v = s.Clip(v)
	if v < 0 {
		return lerp(Under, Even, 1+v/s.MaxAbs)
	}
	return lerp(Even, Over, v/s.MaxAbs)
}

// Hex renders the interpolated color as "#rrggbb" for Leaflet styles.
func (s Scale) Hex(v float64) string {
	c := s.Color(v)
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// CSSGradient returns the legend background for the full scale range.
func (s Scale) CSSGradient() string {
	return fmt.Sprintf("linear-gradient(to right, #%02x%02x%02x, #%02x%02x%02x, #%02x%02x%02x)",
		Under.R, Under.G, Under.B, Even.R, Even.G, Even.B, Over.R, Over.G, Over.B)
}

// FillColor is the per-feature style mapping: territory id plus the
// pct_dev lookup produce a fill color on the given scale. Territories
// missing from the lookup (features the aggregation never saw, which
// should not happen) fall back to the midpoint color rather than failing.
func FillColor(territory string, lookup map[string]float64, s Scale) string {
	return s.Hex(lookup[territory])
}

// lerp blends a→b at t in [0,1] per channel.
func lerp(a, b color.RGBA, t float64) color.RGBA {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	ch := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return color.RGBA{ch(a.R, b.R), ch(a.G, b.G), ch(a.B, b.B), 0xFF}
}

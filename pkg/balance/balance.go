// Package balance computes per-territory load metrics from weighted
// geographic features: how much weight each territory actually carries,
// what an even split of the grand total would give it, and how far off
// it is in absolute and relative terms.
//
// Everything here is a pure function over in-memory slices. Parsing,
// defaulting and rendering live elsewhere; this package never errors —
// degenerate inputs (no features, zero total weight) produce documented
// degenerate outputs instead.
package balance

import (
	"math"
	"sort"
	"strconv"
)

// Feature is one weighted input record after loading. The geometry stays
// with the rendering layer; aggregation only needs the territory id and
// the weight.
type Feature struct {
	Territory string
	Weight    float64
}

// Summary is one row of the per-territory table. JSON tags match the
// column names shown in the UI table and tooltips.
type Summary struct {
	Territory string  `json:"territory"`
	Actual    float64 `json:"actual"`
	Target    float64 `json:"target"`
	Deviation float64 `json:"deviation"`
	PctDev    float64 `json:"pct_dev"`
}

// scale floors: 1% avoids a zero-width scale on perfectly balanced data,
// 10% keeps small imbalances on a perceptible ramp.
const (
	scaleFloorMin = 0.01
	scaleFloorLow = 0.10
)

// Aggregate groups feature weights by territory and derives the even-split
// target, signed deviation and relative deviation per territory.
//
// Rows come back sorted by territory id (numeric ids in numeric order,
// everything else lexicographic) so the table, the worst-row scan and the
// tests all agree on one deterministic order.
//
// target is grandTotal / territoryCount; with no input there are no rows,
// so the division never sees zero. pct_dev is deviation/target, defined as
// 0 when target is 0 — an all-zero-weight dataset is a valid input, not an
// error.
func Aggregate(features []Feature) []Summary {
	if len(features) == 0 {
		return nil
	}

	actual := make(map[string]float64, len(features))
	order := make([]string, 0, len(features))
	for _, f := range features {
		if _, seen := actual[f.Territory]; !seen {
			order = append(order, f.Territory)
		}
		actual[f.Territory] += f.Weight
	}
	sort.Slice(order, func(i, j int) bool { return lessID(order[i], order[j]) })

	grand := 0.0
	for _, id := range order {
		grand += actual[id]
	}
	target := grand / float64(len(order))

	out := make([]Summary, 0, len(order))
	for _, id := range order {
		s := Summary{
			Territory: id,
			Actual:    actual[id],
			Target:    target,
			Deviation: actual[id] - target,
		}
		if target != 0 {
			s.PctDev = s.Deviation / target
		}
		out = append(out, s)
	}
	return out
}

// Worst returns the row with the largest |pct_dev|. Ties resolve to the
// lowest territory id: Aggregate sorts its output and the scan only
// replaces the candidate on a strictly larger value. ok is false for an
// empty table.
func Worst(summaries []Summary) (worst Summary, ok bool) {
	for i, s := range summaries {
		if i == 0 || math.Abs(s.PctDev) > math.Abs(worst.PctDev) {
			worst = s
			ok = true
		}
	}
	return worst, ok
}

// ScaleMax returns the symmetric color-scale half-range: the largest
// |pct_dev| raised to the 1% and 10% floors. Callers clip values to
// [-ScaleMax, +ScaleMax] before mapping to color so outliers saturate at
// the extreme color instead of stretching the ramp.
func ScaleMax(summaries []Summary) float64 {
	maxAbs := 0.0
	for _, s := range summaries {
		if a := math.Abs(s.PctDev); a > maxAbs {
			maxAbs = a
		}
	}
	return math.Max(scaleFloorLow, math.Max(scaleFloorMin, maxAbs))
}

// Lookup builds the territory → pct_dev table the per-feature style
// function keys on.
func Lookup(summaries []Summary) map[string]float64 {
	m := make(map[string]float64, len(summaries))
	for _, s := range summaries {
		m[s.Territory] = s.PctDev
	}
	return m
}

// Report bundles everything one load produces: the table, the headline
// metrics and the color-scale half-range.
type Report struct {
	Summaries  []Summary
	GrandTotal float64
	Target     float64
	Worst      Summary
	MaxAbs     float64
}

// Territories returns the number of distinct territories in the report.
func (r Report) Territories() int { return len(r.Summaries) }

// BuildReport runs the full pipeline over one feature set. An empty input
// yields a zero Report (no rows, MaxAbs still at the 10% floor is NOT
// applied here — callers check Territories() first and show the empty
// prompt instead of a scale).
func BuildReport(features []Feature) Report {
	summaries := Aggregate(features)
	if len(summaries) == 0 {
		return Report{}
	}
	grand := 0.0
	for _, s := range summaries {
		grand += s.Actual
	}
	worst, _ := Worst(summaries)
	return Report{
		Summaries:  summaries,
		GrandTotal: grand,
		Target:     summaries[0].Target,
		Worst:      worst,
		MaxAbs:     ScaleMax(summaries),
	}
}

// lessID orders territory ids numerically when both parse as numbers and
// lexicographically otherwise, with numeric ids sorting before the rest.
// Mixed datasets ("1", "2", "north") stay in an order humans expect.
func lessID(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		if fa != fb {
			return fa < fb
		}
		return a < b // "1" vs "1.0"
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

package balance

import (
	"math"
	"testing"
)

const eps = 1e-9

func almost(a, b float64) bool { return math.Abs(a-b) < eps }

// TestAggregateBalanced covers the fully balanced case: two territories
// carrying exactly the even split produce zero deviations and the scale
// stays at the 10% floor.
func TestAggregateBalanced(t *testing.T) {
	features := []Feature{
		{Territory: "1", Weight: 10},
		{Territory: "1", Weight: 10},
		{Territory: "2", Weight: 20},
	}
	got := Aggregate(features)
	if len(got) != 2 {
		t.Fatalf("Aggregate returned %d rows, want 2", len(got))
	}
	for _, s := range got {
		if !almost(s.Actual, 20) || !almost(s.Target, 20) {
			t.Errorf("territory %s: actual=%v target=%v, want 20/20", s.Territory, s.Actual, s.Target)
		}
		if !almost(s.Deviation, 0) || !almost(s.PctDev, 0) {
			t.Errorf("territory %s: deviation=%v pct_dev=%v, want 0/0", s.Territory, s.Deviation, s.PctDev)
		}
	}
	if max := ScaleMax(got); !almost(max, 0.10) {
		t.Errorf("ScaleMax = %v, want floor 0.10", max)
	}
}

// TestAggregateImbalanced checks signed deviations and that a real
// imbalance overrides the scale floor.
func TestAggregateImbalanced(t *testing.T) {
	features := []Feature{
		{Territory: "1", Weight: 30},
		{Territory: "2", Weight: 10},
	}
	got := Aggregate(features)
	if len(got) != 2 {
		t.Fatalf("Aggregate returned %d rows, want 2", len(got))
	}
	want := []Summary{
		{Territory: "1", Actual: 30, Target: 20, Deviation: 10, PctDev: 0.5},
		{Territory: "2", Actual: 10, Target: 20, Deviation: -10, PctDev: -0.5},
	}
	for i, w := range want {
		s := got[i]
		if s.Territory != w.Territory || !almost(s.Actual, w.Actual) ||
			!almost(s.Target, w.Target) || !almost(s.Deviation, w.Deviation) ||
			!almost(s.PctDev, w.PctDev) {
			t.Errorf("row %d = %+v, want %+v", i, s, w)
		}
	}
	if max := ScaleMax(got); !almost(max, 0.5) {
		t.Errorf("ScaleMax = %v, want 0.5", max)
	}
	// |+50%| and |-50%| tie; the lowest territory id must win.
	worst, ok := Worst(got)
	if !ok || worst.Territory != "1" {
		t.Errorf("Worst = %+v ok=%v, want territory 1", worst, ok)
	}
}

// TestAggregateConservation verifies the grand total is conserved across
// a spread of inputs, including negative and zero weights.
func TestAggregateConservation(t *testing.T) {
	tests := []struct {
		name     string
		features []Feature
	}{
		{"uniform", []Feature{{"a", 1}, {"b", 1}, {"c", 1}}},
		{"skewed", []Feature{{"1", 100.5}, {"2", 0.25}, {"1", 3}, {"3", 42}}},
		{"zeroes", []Feature{{"1", 0}, {"2", 0}}},
		{"negative", []Feature{{"1", -5}, {"2", 15}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := 0.0
			for _, f := range tc.features {
				in += f.Weight
			}
			out := 0.0
			target := math.NaN()
			for _, s := range Aggregate(tc.features) {
				out += s.Actual
				if !math.IsNaN(target) && !almost(s.Target, target) {
					t.Errorf("target differs between rows: %v vs %v", s.Target, target)
				}
				target = s.Target
				if !almost(s.Deviation, s.Actual-s.Target) {
					t.Errorf("deviation %v != actual-target %v", s.Deviation, s.Actual-s.Target)
				}
			}
			if !almost(in, out) {
				t.Errorf("sum(actual) = %v, want sum(weight) = %v", out, in)
			}
		})
	}
}

// TestAggregateZeroTarget: an all-zero-weight dataset must define pct_dev
// as 0 rather than dividing by zero.
func TestAggregateZeroTarget(t *testing.T) {
	got := Aggregate([]Feature{{"1", 0}, {"2", 0}})
	for _, s := range got {
		if s.PctDev != 0 {
			t.Errorf("territory %s: pct_dev = %v, want 0 for zero target", s.Territory, s.PctDev)
		}
	}
}

// TestAggregateEmpty: no features, no rows, no report.
func TestAggregateEmpty(t *testing.T) {
	if got := Aggregate(nil); len(got) != 0 {
		t.Fatalf("Aggregate(nil) = %v, want empty", got)
	}
	r := BuildReport(nil)
	if r.Territories() != 0 || r.GrandTotal != 0 {
		t.Fatalf("BuildReport(nil) = %+v, want zero report", r)
	}
	if _, ok := Worst(nil); ok {
		t.Fatal("Worst(nil) reported ok")
	}
}

// TestDefaultSubstitution mirrors the loader's degraded mode: every
// feature in the sentinel territory "0" with weight 1 gives one row whose
// actual equals the feature count.
func TestDefaultSubstitution(t *testing.T) {
	features := make([]Feature, 7)
	for i := range features {
		features[i] = Feature{Territory: "0", Weight: 1}
	}
	got := Aggregate(features)
	if len(got) != 1 {
		t.Fatalf("Aggregate returned %d rows, want 1", len(got))
	}
	if got[0].Territory != "0" || !almost(got[0].Actual, 7) {
		t.Errorf("row = %+v, want territory 0 with actual 7", got[0])
	}
	if !almost(got[0].PctDev, 0) {
		t.Errorf("pct_dev = %v, want 0 for a single territory", got[0].PctDev)
	}
}

// TestScaleMaxFloors pins the 1% and 10% floors.
func TestScaleMaxFloors(t *testing.T) {
	tests := []struct {
		name string
		rows []Summary
		want float64
	}{
		{"empty", nil, 0.10},
		{"tiny", []Summary{{PctDev: 0.001}, {PctDev: -0.002}}, 0.10},
		{"exact floor", []Summary{{PctDev: -0.10}}, 0.10},
		{"above floor", []Summary{{PctDev: 0.25}, {PctDev: -0.1}}, 0.25},
		{"negative dominates", []Summary{{PctDev: 0.2}, {PctDev: -0.9}}, 0.9},
	}
	for _, tc := range tests {
		if got := ScaleMax(tc.rows); !almost(got, tc.want) {
			t.Errorf("%s: ScaleMax = %v, want %v", tc.name, got, tc.want)
		}
	}
}

// TestAggregateOrdering: numeric ids sort numerically, names
// lexicographically after them, so "10" lands after "2" and before "north".
func TestAggregateOrdering(t *testing.T) {
	features := []Feature{
		{"north", 1}, {"10", 1}, {"2", 1}, {"1", 1}, {"east", 1},
	}
	got := Aggregate(features)
	want := []string{"1", "2", "10", "east", "north"}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].Territory != id {
			t.Errorf("row %d = %q, want %q", i, got[i].Territory, id)
		}
	}
}

// TestWorstPicksLargest uses an asymmetric dataset where the most
// underweighted territory is the worst.
func TestWorstPicksLargest(t *testing.T) {
	features := []Feature{{"1", 90}, {"2", 100}, {"3", 110}, {"4", 20}}
	r := BuildReport(features)
	if r.Worst.Territory != "4" {
		t.Fatalf("worst = %+v, want territory 4", r.Worst)
	}
	if r.Worst.PctDev >= 0 {
		t.Errorf("worst pct_dev = %v, want negative", r.Worst.PctDev)
	}
	if !almost(r.Target, 80) || !almost(r.GrandTotal, 320) {
		t.Errorf("target=%v grand=%v, want 80/320", r.Target, r.GrandTotal)
	}
}

// TestLookup verifies the style-function lookup covers every territory
// exactly once.
func TestLookup(t *testing.T) {
	rows := Aggregate([]Feature{{"1", 30}, {"2", 10}})
	lookup := Lookup(rows)
	if len(lookup) != 2 {
		t.Fatalf("lookup has %d entries, want 2", len(lookup))
	}
	if !almost(lookup["1"], 0.5) || !almost(lookup["2"], -0.5) {
		t.Errorf("lookup = %v, want 1→0.5 2→-0.5", lookup)
	}
}

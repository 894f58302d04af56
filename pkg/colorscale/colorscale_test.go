package colorscale

import "testing"

// TestEndpoints verifies the scale hits the exact ramp colors at its
// bounds and midpoint.
func TestEndpoints(t *testing.T) {
	s := Symmetric(0.5)
	tests := []struct {
		v    float64
		want string
	}{
		{-0.5, "#2c7bb6"},
		{0, "#ffffbf"},
		{0.5, "#d7191c"},
	}
	for _, tc := range tests {
		if got := s.Hex(tc.v); got != tc.want {
			t.Errorf("Hex(%v) = %s, want %s", tc.v, got, tc.want)
		}
	}
}

// TestClipSaturates: values beyond the half-range must saturate at the
// end colors instead of extrapolating.
func TestClipSaturates(t *testing.T) {
	s := Symmetric(0.10)
	if got := s.Hex(3.0); got != s.Hex(0.10) {
		t.Errorf("Hex(3.0) = %s, want saturated %s", got, s.Hex(0.10))
	}
	if got := s.Hex(-42); got != s.Hex(-0.10) {
		t.Errorf("Hex(-42) = %s, want saturated %s", got, s.Hex(-0.10))
	}
	if got := s.Clip(0.05); got != 0.05 {
		t.Errorf("Clip(0.05) = %v, want unchanged", got)
	}
}

// TestSymmetry: equal deviations on both sides must sit at the same
// distance from the midpoint (red and blue channels swap roles).
func TestSymmetry(t *testing.T) {
	s := Symmetric(0.2)
	pos := s.Color(0.1)
	neg := s.Color(-0.1)
	if pos == neg {
		t.Fatalf("Color(0.1) == Color(-0.1) = %v, expected different sides of the ramp", pos)
	}
	if pos.R <= pos.B {
		t.Errorf("positive deviation %v should lean red", pos)
	}
	if neg.B <= neg.R {
		t.Errorf("negative deviation %v should lean blue", neg)
	}
}

// TestFillColor covers the pure style mapping, including the fallback for
// a territory absent from the lookup.
func TestFillColor(t *testing.T) {
	s := Symmetric(0.5)
	lookup := map[string]float64{"1": 0.5, "2": -0.5}
	if got := FillColor("1", lookup, s); got != "#d7191c" {
		t.Errorf("FillColor(1) = %s, want #d7191c", got)
	}
	if got := FillColor("2", lookup, s); got != "#2c7bb6" {
		t.Errorf("FillColor(2) = %s, want #2c7bb6", got)
	}
	if got := FillColor("ghost", lookup, s); got != "#ffffbf" {
		t.Errorf("FillColor(ghost) = %s, want midpoint #ffffbf", got)
	}
}

// TestDegenerateScale: zero half-range always yields the midpoint.
func TestDegenerateScale(t *testing.T) {
	s := Symmetric(0)
	if got := s.Hex(1); got != "#ffffbf" {
		t.Errorf("Hex(1) on zero scale = %s, want #ffffbf", got)
	}
}

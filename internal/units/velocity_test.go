package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name  string
		mps   float64
		units string
		want  float64
	}{
		{"mps passthrough", 10, MPS, 10},
		{"kph", 10, KPH, 36},
		{"mph", 10, MPH, 22.369362920544},
		{"unknown unit falls back to mps", 10, "furlongs", 10},
		{"zero", 0, KPH, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertSpeed(tt.mps, tt.units)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ConvertSpeed(%v, %q) = %v, want %v", tt.mps, tt.units, got, tt.want)
			}
		})
	}
}

func TestFormatKPH(t *testing.T) {
	if got := FormatKPH(10); got != "36 km/h" {
		t.Errorf("FormatKPH(10) = %q, want \"36 km/h\"", got)
	}
}

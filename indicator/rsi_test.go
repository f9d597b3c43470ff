package indicator

import (
	"math"
	"testing"
)

func TestRSI_LengthAndRange(t *testing.T) {
	fixtures := map[string][]float64{
		"wave":   wave(120),
		"rising": ramp(10, 1, 40),
		"flat":   ramp(10, 0, 40),
		"fall":   ramp(100, -0.5, 40),
	}
	for name, prices := range fixtures {
		for _, period := range []int{2, 5, 14} {
			r := RSI(prices, period)
			if len(r) != len(prices)-period {
				t.Fatalf("%s period %d: len %d, want %d", name, period, len(r), len(prices)-period)
			}
			for i, v := range r {
				if math.IsNaN(v) || v < 0 || v > 100 {
					t.Fatalf("%s period %d: rsi[%d] = %v out of range", name, period, i, v)
				}
			}
		}
	}
}

func TestRSI_ShortInput(t *testing.T) {
	if r := RSI(ramp(1, 1, 14), 14); r != nil {
		t.Fatalf("RSI with period prices should be nil, got %v", r)
	}
	if _, ok := LastRSI(nil, 14); ok {
		t.Fatalf("LastRSI on empty input should not be ok")
	}
}

func TestRSI_Extremes(t *testing.T) {
	up, _ := LastRSI(ramp(10, 1, 30), 14)
	if up < 99.99 {
		t.Fatalf("steady gains should push RSI to ~100, got %v", up)
	}
	down, _ := LastRSI(ramp(100, -1, 30), 14)
	if down > 0.01 {
		t.Fatalf("steady losses should push RSI to ~0, got %v", down)
	}
}

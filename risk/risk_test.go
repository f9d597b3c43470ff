package risk

import (
	"math"
	"testing"
)

func TestFallbackQty(t *testing.T) {
	cases := []struct {
		name             string
		def, cash, price float64
		want             float64
	}{
		{"default fits", 0.0009, 10_000, 50_000, 0.0009},
		{"cash bound", 0.0009, 20, 50_000, 0.0004},
		{"floors to 6dp", 1, 10, 3, 3.333333},
		{"no cash", 0.0009, 0, 50_000, 0},
		{"bad price", 0.0009, 100, 0, 0},
	}
	for _, c := range cases {
		if got := FallbackQty(c.def, c.cash, c.price); got != c.want {
			t.Fatalf("%s: FallbackQty = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestFloorQtyNeverRoundsUp(t *testing.T) {
	if got := FloorQty(0.1234569, 6); got != 0.123456 {
		t.Fatalf("FloorQty = %v, want 0.123456", got)
	}
	if got := FloorQty(math.NaN(), 6); got != 0 {
		t.Fatalf("FloorQty(NaN) = %v, want 0", got)
	}
}

func TestClamps(t *testing.T) {
	if ClampAutoTP(5) != AutoTPMax || ClampManualTP(5) != 5 {
		t.Fatalf("auto and manual TP ranges should differ")
	}
	if ClampAutoSL(0.01) != MinPercent || ClampManualSL(50) != ManualSLMax {
		t.Fatalf("SL clamps out of range")
	}
}

/*
entry 100 with 1% TP and 1% SL gives exact levels 101 and 99.
*/
func TestLevels(t *testing.T) {
	tp, sl := Levels(100, 1, 1)
	if tp != 101 || sl != 99 {
		t.Fatalf("Levels = %v/%v, want 101/99", tp, sl)
	}
}

func TestPnL(t *testing.T) {
	pnl, pct := PnL(100, 101.5, 2)
	if pnl != 3 || pct != 1.5 {
		t.Fatalf("PnL = %v (%v%%), want 3 (1.5%%)", pnl, pct)
	}
	fees, net := NetOfFees(101.5, 2, pnl)
	if fees != 0.5075 || net != 2.4925 {
		t.Fatalf("fees=%v net=%v, want 0.5075/2.4925", fees, net)
	}
	// only the exit fill is charged, so a loss grows by the exit fee
	fees, net = NetOfFees(99, 2, -2)
	if fees != 0.495 || net != -2.495 {
		t.Fatalf("fees=%v net=%v, want 0.495/-2.495", fees, net)
	}
}

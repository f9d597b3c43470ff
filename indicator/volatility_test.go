package indicator

import (
	"math"
	"testing"
)

func TestVolatility_Edges(t *testing.T) {
	if got := Volatility([]float64{100}, 365); got != 1 {
		t.Fatalf("single price volatility = %v, want 1", got)
	}
	if got := Volatility([]float64{100, 101}, 365); got != 0 {
		t.Fatalf("single return volatility = %v, want 0", got)
	}
	if got := Volatility(ramp(100, 0, 50), 365); got != 0 {
		t.Fatalf("flat series volatility = %v, want 0", got)
	}
}

func TestVolatility_AnnualizationScales(t *testing.T) {
	prices := wave(150)
	daily := Volatility(prices, 365)
	hourly := Volatility(prices, 365*24)
	if !almostEqual(hourly/daily, math.Sqrt(24)) {
		t.Fatalf("annualization ratio = %v, want sqrt(24)", hourly/daily)
	}
}

func TestVolatility_UsesLastWindow(t *testing.T) {
	prices := append(ramp(1, 10, 50), wave(VolatilityWindow)...)
	if Volatility(prices, 365) != Volatility(prices[len(prices)-VolatilityWindow:], 365) {
		t.Fatalf("only the last %d prices should count", VolatilityWindow)
	}
}

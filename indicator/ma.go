// Package indicator holds the pure moving-average, RSI and volatility
// functions the crossover strategies are built from. Every function takes the
// full price window and never mutates it.
package indicator

import (
	"fmt"
	"math"
	"strings"
)

// MAType enumerates the supported moving averages. The declaration order is
// the order QuantumMA walks them, so it also breaks score ties.
type MAType int

const (
	SMAType MAType = iota
	HullType
	EMAType
	WMAType
	RMAType
	LinRegType
	ALMAType
	VWMAType
)

// AllMATypes lists every MAType in evaluation order.
var AllMATypes = []MAType{SMAType, HullType, EMAType, WMAType, RMAType, LinRegType, ALMAType, VWMAType}

var maNames = map[MAType]string{
	SMAType:    "SMA",
	HullType:   "Hull",
	EMAType:    "EMA",
	WMAType:    "WMA",
	RMAType:    "RMA",
	LinRegType: "LINREG",
	ALMAType:   "ALMA",
	VWMAType:   "VWMA",
}

func (t MAType) String() string {
	if n, ok := maNames[t]; ok {
		return n
	}
	return fmt.Sprintf("MAType(%d)", int(t))
}

func ParseMAType(s string) (MAType, error) {
	for t, n := range maNames {
		if strings.EqualFold(n, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown moving average %q", s)
}

// ALMAParams configures the Arnaud Legoux MA.
type ALMAParams struct {
	Offset float64 // (0,1), where the Gaussian peaks inside the window
	Sigma  float64 // > 0, window width / sigma is the Gaussian scale
}

var DefaultALMA = ALMAParams{Offset: 0.85, Sigma: 6}

func enough(prices []float64, length int) bool {
	return length >= 1 && len(prices) >= length
}

// SMA is the mean of the last length prices, or 0 when there are fewer.
func SMA(prices []float64, length int) float64 {
	if !enough(prices, length) {
		return 0
	}
	sum := 0.0
	for _, p := range prices[len(prices)-length:] {
		sum += p
	}
	return sum / float64(length)
}

// EMA seeds with the SMA of the last length prices and then applies the
// 2/(length+1) recursion over samples length..n-1. This is not the
// conventional first-point seed; the arithmetic is kept for parity with
// recorded signals.
func EMA(prices []float64, length int) float64 {
	if !enough(prices, length) {
		return 0
	}
	k := 2 / float64(length+1)
	ema := SMA(prices, length)
	for i := length; i < len(prices); i++ {
		ema = (prices[i]-ema)*k + ema
	}
	return ema
}

// WMA weights the last length prices 1..length, newest heaviest.
func WMA(prices []float64, length int) float64 {
	if !enough(prices, length) {
		return 0
	}
	window := prices[len(prices)-length:]
	num := 0.0
	for i, p := range window {
		num += p * float64(i+1)
	}
	return num / float64(length*(length+1)/2)
}

// HMA computes 2*WMA(L/2) - WMA(L) and smooths it with a WMA over
// floor(sqrt(L)) of the price window whose last element is replaced by the
// raw value. Only the last element is substituted; this is an approximation
// of a textbook Hull MA and is reproduced as such.
func HMA(prices []float64, length int) float64 {
	if !enough(prices, length) {
		return 0
	}
	half := length / 2
	if half < 1 {
		// length 1 would need a zero-length WMA
		half = 1
	}
	sq := int(math.Sqrt(float64(length)))
	if sq < 1 {
		sq = 1
	}
	raw := 2*WMA(prices, half) - WMA(prices, length)
	tmp := make([]float64, len(prices))
	copy(tmp, prices)
	tmp[len(tmp)-1] = raw
	return WMA(tmp, sq)
}

// ALMA is the Gaussian-weighted average of the last length prices.
func ALMA(prices []float64, length int, p ALMAParams) float64 {
	if !enough(prices, length) || p.Sigma <= 0 {
		return 0
	}
	m := p.Offset * float64(length-1)
	s := float64(length) / p.Sigma
	window := prices[len(prices)-length:]
	num, den := 0.0, 0.0
	for i, v := range window {
		d := float64(i) - m
		w := math.Exp(-(d * d) / (2 * s * s))
		num += v * w
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// RMA is Wilder's smoothing with the same last-window seed as EMA.
func RMA(prices []float64, length int) float64 {
	if !enough(prices, length) {
		return 0
	}
	rma := SMA(prices, length)
	l := float64(length)
	for i := length; i < len(prices); i++ {
		rma = (rma*(l-1) + prices[i]) / l
	}
	return rma
}

// LinReg fits a least-squares line over the last length prices and returns
// its value at the newest point. A single-point window returns that point.
func LinReg(prices []float64, length int) float64 {
	if !enough(prices, length) {
		return 0
	}
	window := prices[len(prices)-length:]
	n := float64(length)
	sumX, sumY, sumXY, sumXX := 0.0, 0.0, 0.0, 0.0
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return window[len(window)-1]
	}
	slope := (n*sumXY - sumX*sumY) / den
	intercept := (sumY - slope*sumX) / n
	return slope*(n-1) + intercept
}

// VWMA has no volume input and falls back to WMA. Close-only series carry no
// volume, so this is an approximation rather than a volume-weighted mean.
func VWMA(prices []float64, length int) float64 {
	return WMA(prices, length)
}

// MA dispatches on t.
func MA(t MAType, prices []float64, length int, alma ALMAParams) float64 {
	switch t {
	case SMAType:
		return SMA(prices, length)
	case HullType:
		return HMA(prices, length)
	case EMAType:
		return EMA(prices, length)
	case WMAType:
		return WMA(prices, length)
	case RMAType:
		return RMA(prices, length)
	case LinRegType:
		return LinReg(prices, length)
	case ALMAType:
		return ALMA(prices, length, alma)
	case VWMAType:
		return VWMA(prices, length)
	}
	return 0
}

// Series returns an MA value for every index i computed over prices[:i+1],
// so out is aligned 1:1 with prices and holds 0 until the window fills.
func Series(t MAType, prices []float64, length int, alma ALMAParams) []float64 {
	out := make([]float64, len(prices))
	for i := range prices {
		out[i] = MA(t, prices[:i+1], length, alma)
	}
	return out
}

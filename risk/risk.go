package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// QtyPrecision is the number of decimals an order quantity is floored to.
const QtyPrecision = 6

// DefaultPercent is the TP/SL used when nothing else is known.
const DefaultPercent = 1.0

// TP/SL clamp ranges. The sizer ("auto") path caps TP at 1% while a manually
// configured TP may go up to 10%; both ranges are kept as they are.
const (
	MinPercent  = 0.1
	AutoTPMax   = 1.0
	AutoSLMax   = 10.0
	ManualTPMax = 10.0
	ManualSLMax = 10.0
)

// TakerFee is the fee rate used for net PnL estimates in notifications.
const TakerFee = 0.0025

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func ClampAutoTP(v float64) float64   { return clamp(v, MinPercent, AutoTPMax) }
func ClampAutoSL(v float64) float64   { return clamp(v, MinPercent, AutoSLMax) }
func ClampManualTP(v float64) float64 { return clamp(v, MinPercent, ManualTPMax) }
func ClampManualSL(v float64) float64 { return clamp(v, MinPercent, ManualSLMax) }

// FloorQty rounds q down to places decimals without binary float drift.
func FloorQty(q float64, places int32) float64 {
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(q).RoundFloor(places).Float64()
	return f
}

// FallbackQty is min(defaultQty, cash/price) floored to QtyPrecision. It is
// 0 when the price is not positive or there is no cash.
func FallbackQty(defaultQty, cash, price float64) float64 {
	if price <= 0 || cash <= 0 || defaultQty <= 0 {
		return 0
	}
	return FloorQty(math.Min(defaultQty, cash/price), QtyPrecision)
}

// Levels converts TP/SL percentages into absolute prices around entry.
func Levels(entry, tpPct, slPct float64) (takeProfit, stopLoss float64) {
	e := decimal.NewFromFloat(entry)
	hundred := decimal.NewFromInt(100)
	tp := e.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(tpPct).Div(hundred)))
	sl := e.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slPct).Div(hundred)))
	takeProfit, _ = tp.Float64()
	stopLoss, _ = sl.Float64()
	return takeProfit, stopLoss
}

// PnL returns (exit-entry)*qty and the percentage move of the price.
func PnL(entry, exit, qty float64) (pnl, pct float64) {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	pnl, _ = x.Sub(e).Mul(decimal.NewFromFloat(qty)).Float64()
	if entry != 0 {
		pct, _ = x.Sub(e).Div(e).Mul(decimal.NewFromInt(100)).Float64()
	}
	return pnl, pct
}

// NetOfFees subtracts the taker fee on the closing fill from gross PnL.
func NetOfFees(exit, qty, gross float64) (fees, net float64) {
	f := decimal.NewFromFloat(exit).Mul(decimal.NewFromFloat(qty)).Abs().
		Mul(decimal.NewFromFloat(TakerFee))
	fees, _ = f.Float64()
	n, _ := decimal.NewFromFloat(gross).Sub(f).Float64()
	return fees, n
}

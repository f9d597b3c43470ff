// Package marketdata supplies historical bars and the live price.
package marketdata

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/evdnx/gotsma/types"
)

// Source fetches historical bars, oldest first.
type Source interface {
	Bars(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error)
}

// LivePrice is read by the exit monitor on every poll.
type LivePrice interface {
	Price() (float64, bool)
}

// PriceCell holds the latest price. It is written by the live feed and the
// regular update and read by exit monitors, without locks.
type PriceCell struct {
	bits atomic.Uint64
}

func NewPriceCell() *PriceCell {
	c := &PriceCell{}
	c.bits.Store(math.Float64bits(math.NaN()))
	return c
}

// Set stores p; NaN, infinite and non-positive values are ignored.
func (c *PriceCell) Set(p float64) bool {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return false
	}
	c.bits.Store(math.Float64bits(p))
	return true
}

// Price returns the stored price, ok=false when none has been set.
func (c *PriceCell) Price() (float64, bool) {
	p := math.Float64frombits(c.bits.Load())
	if math.IsNaN(p) {
		return 0, false
	}
	return p, true
}

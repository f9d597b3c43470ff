package strategy

import (
	"math"
	"sync"
	"time"

	"github.com/evdnx/gotsma/types"
)

// DefaultMaxSeries bounds the close history kept in memory.
const DefaultMaxSeries = 1000

// PriceSeries keeps a rolling window of closing prices in arrival order.
// Consecutive identical closes are stored once, bars older than the newest
// one are ignored and a bar with the newest timestamp but a different close
// (the still-forming candle) replaces the last value. It is safe for
// concurrent use: the regular update writes while exit monitors read.
type PriceSeries struct {
	mu       sync.RWMutex
	max      int
	buf      []float64
	lastTime time.Time
	// tailTime is the timestamp of the bar that produced buf[len-1]. It lags
	// lastTime when the newest bar repeated the previous close.
	tailTime time.Time
}

func NewPriceSeries(max int) *PriceSeries {
	if max <= 0 {
		max = DefaultMaxSeries
	}
	return &PriceSeries{max: max}
}

// Append adds one close and reports whether the series changed.
func (p *PriceSeries) Append(t time.Time, close float64) bool {
	if math.IsNaN(close) || math.IsInf(close, 0) || close <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.buf)
	if !t.IsZero() && !p.lastTime.IsZero() {
		if t.Before(p.lastTime) {
			return false
		}
		if t.Equal(p.tailTime) {
			if n > 0 && p.buf[n-1] != close {
				p.buf[n-1] = close
				return true
			}
			return false
		}
	}
	if !t.IsZero() {
		p.lastTime = t
	}
	if n > 0 && p.buf[n-1] == close {
		return false
	}
	p.buf = append(p.buf, close)
	p.tailTime = p.lastTime
	if len(p.buf) > p.max {
		p.buf = append(p.buf[:0:0], p.buf[len(p.buf)-p.max:]...)
	}
	return true
}

// AppendBars appends the closes of bars in order and returns how many
// changed the series.
func (p *PriceSeries) AppendBars(bars []types.Bar) int {
	changed := 0
	for _, b := range bars {
		if p.Append(b.Time, b.Close) {
			changed++
		}
	}
	return changed
}

// Values returns a copy of the stored closes, oldest first.
func (p *PriceSeries) Values() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]float64, len(p.buf))
	copy(out, p.buf)
	return out
}

func (p *PriceSeries) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buf)
}

func (p *PriceSeries) Last() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.buf) == 0 {
		return 0
	}
	return p.buf[len(p.buf)-1]
}

func (p *PriceSeries) Prev() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.buf) < 2 {
		return 0
	}
	return p.buf[len(p.buf)-2]
}

// Closed returns the closes of finished candles. The newest element is
// dropped when it belongs to the candle that is still forming; when that
// candle repeated the previous close it was never stored and nothing is
// dropped.
func (p *PriceSeries) Closed() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := len(p.buf)
	if n > 0 && p.tailTime.Equal(p.lastTime) {
		n--
	}
	out := make([]float64, n)
	copy(out, p.buf[:n])
	return out
}

package testutils

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/evdnx/gotsma/types"
)

// ScriptedPrices returns the scripted values in order, repeating the last
// one once exhausted. NaN entries read as "no price".
type ScriptedPrices struct {
	mu     sync.Mutex
	prices []float64
	next   int
}

func NewScriptedPrices(prices ...float64) *ScriptedPrices {
	return &ScriptedPrices{prices: prices}
}

func (s *ScriptedPrices) Price() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prices) == 0 {
		return 0, false
	}
	i := s.next
	if i >= len(s.prices) {
		i = len(s.prices) - 1
	} else {
		s.next++
	}
	p := s.prices[i]
	if math.IsNaN(p) {
		return 0, false
	}
	return p, true
}

// Reads reports how many scripted values have been consumed.
func (s *ScriptedPrices) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// StaticBars serves a fixed close series as bars, one interval apart.
type StaticBars struct {
	mu     sync.Mutex
	closes []float64
	Start  time.Time
	Err    error
	calls  int
}

func NewStaticBars(closes ...float64) *StaticBars {
	return &StaticBars{closes: closes, Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// SetCloses replaces the served series.
func (s *StaticBars) SetCloses(closes ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = closes
}

func (s *StaticBars) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StaticBars) Bars(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Err != nil {
		return nil, s.Err
	}
	step := tf.Interval()
	closes := s.closes
	offset := 0
	if limit > 0 && len(closes) > limit {
		offset = len(closes) - limit
		closes = closes[offset:]
	}
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{Time: s.Start.Add(time.Duration(offset+i) * step), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars, nil
}

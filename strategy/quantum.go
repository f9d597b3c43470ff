package strategy

import (
	"fmt"
	"math"

	"github.com/evdnx/gotsma/indicator"
	"github.com/evdnx/gotsma/types"
)

// Trend is the relationship between the last price and the last MA value.
type Trend int

const (
	Neutral Trend = iota
	Bullish
	Bearish
)

func (t Trend) String() string {
	switch t {
	case Bullish:
		return "Bullish"
	case Bearish:
		return "Bearish"
	}
	return "Neutral"
}

func trendOf(price, ma float64) Trend {
	switch {
	case price > ma:
		return Bullish
	case price < ma:
		return Bearish
	}
	return Neutral
}

// QuantumConfig parameterizes the exhaustive MA search.
type QuantumConfig struct {
	BaseLength int
	EvalPeriod int
	ALMA       indicator.ALMAParams
}

// DefaultQuantumConfig mirrors the bot defaults.
func DefaultQuantumConfig() QuantumConfig {
	return QuantumConfig{BaseLength: 20, EvalPeriod: 20, ALMA: indicator.DefaultALMA}
}

// Candidate is one scored (type, length) combination.
type Candidate struct {
	MAType indicator.MAType
	Length int
	Score  float64
	Series []float64
}

// AnalysisResult is the winning candidate plus its fit statistics. It is
// rebuilt on every call.
type AnalysisResult struct {
	MAType   indicator.MAType
	Length   int
	Score    float64
	RSquared float64
	Trend    Trend
	MAValues []float64
}

// QuantumMA scores every MA type at three length variants and keeps the best.
type QuantumMA struct {
	cfg QuantumConfig
}

func NewQuantumMA(cfg QuantumConfig) *QuantumMA {
	if cfg.BaseLength < 1 {
		cfg.BaseLength = 1
	}
	if cfg.EvalPeriod < 2 {
		cfg.EvalPeriod = 2
	}
	if cfg.ALMA.Sigma <= 0 {
		cfg.ALMA = indicator.DefaultALMA
	}
	return &QuantumMA{cfg: cfg}
}

// Lengths returns the short (0.5x), mid (1x) and long (2x) lengths.
func (q *QuantumMA) Lengths() [3]int {
	b := q.cfg.BaseLength
	short := int(math.Round(0.5 * float64(b)))
	if short < 1 {
		short = 1
	}
	return [3]int{short, b, 2 * b}
}

// Evaluate scores every candidate in selection order.
func (q *QuantumMA) Evaluate(prices []float64) []Candidate {
	lengths := q.Lengths()
	out := make([]Candidate, 0, len(indicator.AllMATypes)*len(lengths))
	for _, typ := range indicator.AllMATypes {
		for _, l := range lengths {
			series := indicator.Series(typ, prices, l, q.cfg.ALMA)
			out = append(out, Candidate{
				MAType: typ,
				Length: l,
				Score:  crossoverScore(prices, series, q.cfg.EvalPeriod, l),
				Series: series,
			})
		}
	}
	return out
}

// Analyze returns the highest scoring candidate. Ties keep the earlier one.
func (q *QuantumMA) Analyze(prices []float64) (AnalysisResult, error) {
	if len(prices) == 0 {
		return AnalysisResult{}, fmt.Errorf("quantum analyze: %w", types.ErrDataUnavailable)
	}
	cands := q.Evaluate(prices)
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	n := len(prices)
	return AnalysisResult{
		MAType:   best.MAType,
		Length:   best.Length,
		Score:    best.Score,
		RSquared: rSquared(prices, best.Series, q.cfg.EvalPeriod),
		Trend:    trendOf(prices[n-1], best.Series[n-1]),
		MAValues: best.Series,
	}, nil
}

// crossoverScore walks the first evalPeriod samples. An upward cross adds
// prev-price minus price and a downward cross adds price minus prev-price;
// the sum is divided by the MA length.
func crossoverScore(prices, ma []float64, evalPeriod, length int) float64 {
	limit := evalPeriod
	if limit > len(prices) {
		limit = len(prices)
	}
	score := 0.0
	for i := 1; i < limit; i++ {
		p, pp := prices[i], prices[i-1]
		m, pm := ma[i], ma[i-1]
		switch {
		case p > m && pp <= pm:
			score += pp - p
		case p < m && pp >= pm:
			score += p - pp
		}
	}
	return score / float64(length)
}

// rSquared measures the fit of ma against prices over the last evalPeriod
// points. A flat price window (zero total variance) uses 1 as denominator.
func rSquared(prices, ma []float64, evalPeriod int) float64 {
	n := len(prices)
	start := n - evalPeriod
	if start < 0 {
		start = 0
	}
	p := prices[start:]
	m := ma[start:]
	mean := 0.0
	for _, v := range p {
		mean += v
	}
	mean /= float64(len(p))
	ssRes, ssTot := 0.0, 0.0
	for i := range p {
		ssRes += (p[i] - m[i]) * (p[i] - m[i])
		ssTot += (p[i] - mean) * (p[i] - mean)
	}
	if ssTot == 0 {
		ssTot = 1
	}
	return 1 - ssRes/ssTot
}

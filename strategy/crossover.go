package strategy

import (
	"fmt"

	"github.com/evdnx/gotsma/config"
	"github.com/evdnx/gotsma/indicator"
	"github.com/evdnx/gotsma/types"
)

// Reading is the last two points of a fast line against a slow line. For the
// single-MA variants the fast line is the price itself.
type Reading struct {
	Strategy   string
	PrevFast   float64
	PrevSlow   float64
	LastFast   float64
	LastSlow   float64
	FastLength int
	SlowLength int
	MAType     string
	Score      float64
	RSquared   float64
	Trend      Trend
	Volatility float64
}

// CrossedOver: fast moved from at-or-below slow to above it.
func (r Reading) CrossedOver() bool {
	return r.PrevFast <= r.PrevSlow && r.LastFast > r.LastSlow
}

// CrossedUnder: fast moved from at-or-above slow to below it.
func (r Reading) CrossedUnder() bool {
	return r.PrevFast >= r.PrevSlow && r.LastFast < r.LastSlow
}

// Crossover produces a Reading from a price window. Implementations are
// stateless; all state comes in through prices.
type Crossover interface {
	Name() string
	Read(prices []float64) (Reading, error)
	// RSIGated reports whether signals from this crossover must pass the RSI
	// band check.
	RSIGated() bool
}

// SimpleCrossover compares price with a fixed-length SMA.
type SimpleCrossover struct {
	Length int
}

func (s SimpleCrossover) Name() string   { return "simple" }
func (s SimpleCrossover) RSIGated() bool { return false }

func (s SimpleCrossover) Read(prices []float64) (Reading, error) {
	n := len(prices)
	if s.Length < 1 || n < s.Length+1 {
		return Reading{}, fmt.Errorf("simple crossover needs %d prices, have %d: %w",
			s.Length+1, n, types.ErrDataUnavailable)
	}
	last := indicator.SMA(prices, s.Length)
	return Reading{
		Strategy:   s.Name(),
		PrevFast:   prices[n-2],
		PrevSlow:   indicator.SMA(prices[:n-1], s.Length),
		LastFast:   prices[n-1],
		LastSlow:   last,
		FastLength: 1,
		SlowLength: s.Length,
		MAType:     indicator.SMAType.String(),
		Trend:      trendOf(prices[n-1], last),
	}, nil
}

// QuantumCrossover compares price with the series QuantumMA selects on each
// call.
type QuantumCrossover struct {
	q *QuantumMA
}

func NewQuantumCrossover(cfg QuantumConfig) *QuantumCrossover {
	return &QuantumCrossover{q: NewQuantumMA(cfg)}
}

func (c *QuantumCrossover) Name() string   { return "quantum" }
func (c *QuantumCrossover) RSIGated() bool { return false }

func (c *QuantumCrossover) Read(prices []float64) (Reading, error) {
	n := len(prices)
	if n < 2 {
		return Reading{}, fmt.Errorf("quantum crossover needs 2 prices, have %d: %w", n, types.ErrDataUnavailable)
	}
	res, err := c.q.Analyze(prices)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Strategy:   c.Name(),
		PrevFast:   prices[n-2],
		PrevSlow:   res.MAValues[n-2],
		LastFast:   prices[n-1],
		LastSlow:   res.MAValues[n-1],
		FastLength: 1,
		SlowLength: res.Length,
		MAType:     res.MAType.String(),
		Score:      res.Score,
		RSquared:   res.RSquared,
		Trend:      res.Trend,
	}, nil
}

// NewCrossover builds the variant named by cfg.Strategy.
func NewCrossover(cfg config.BotConfig) (Crossover, error) {
	switch cfg.Strategy {
	case config.StrategySimple:
		return SimpleCrossover{Length: cfg.BaseLength}, nil
	case config.StrategyQuantum:
		return NewQuantumCrossover(QuantumConfig{
			BaseLength: cfg.BaseLength,
			EvalPeriod: cfg.EvalPeriod,
			ALMA:       indicator.ALMAParams{Offset: cfg.ALMAOffset, Sigma: cfg.ALMASigma},
		}), nil
	case config.StrategyVolScaled:
		return NewVolScaled(VolScaledConfig{
			BaseLength:  cfg.BaseLength,
			VolScale:    cfg.VolScale,
			BarsPerYear: cfg.BarsPerYear(),
		}), nil
	}
	return nil, fmt.Errorf("unknown strategy %q: %w", cfg.Strategy, types.ErrConfigInvalid)
}

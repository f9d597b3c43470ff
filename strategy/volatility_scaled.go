package strategy

import (
	"fmt"
	"math"

	"github.com/evdnx/gotsma/indicator"
	"github.com/evdnx/gotsma/types"
	"github.com/markcheno/go-talib"
)

// VolScaledConfig parameterizes the two-MA variant.
type VolScaledConfig struct {
	BaseLength int
	// VolScale converts annualized volatility into bars of length shift.
	VolScale float64
	// BarsPerYear annualizes the volatility estimate for the bar interval.
	BarsPerYear float64
}

const (
	minFastLength = 5
	minLengthGap  = 5
)

// VolScaled derives a fast SMA and a slow EMA whose lengths spread apart as
// volatility rises. The series come from TA-Lib, which seeds the EMA from
// the first window like the charting libraries the bot was tuned against.
type VolScaled struct {
	cfg VolScaledConfig
}

func NewVolScaled(cfg VolScaledConfig) *VolScaled {
	if cfg.BaseLength < 1 {
		cfg.BaseLength = 1
	}
	if cfg.BarsPerYear <= 0 {
		cfg.BarsPerYear = types.LegacyBarsPerYear
	}
	return &VolScaled{cfg: cfg}
}

// Lengths returns the fast and slow lengths for this price window along with
// the volatility that produced them.
func (v *VolScaled) Lengths(prices []float64) (fast, slow int, vol float64) {
	vol = indicator.Volatility(prices, v.cfg.BarsPerYear)
	b := float64(v.cfg.BaseLength)
	fast = int(math.Round(b - v.cfg.VolScale*vol))
	if fast < minFastLength {
		fast = minFastLength
	}
	slow = int(math.Round(b + v.cfg.VolScale*vol))
	if slow < fast+minLengthGap {
		slow = fast + minLengthGap
	}
	return fast, slow, vol
}

// Pair computes both MA series aligned with prices. At least slow+1 prices
// are required so the last two slow values are populated.
func (v *VolScaled) Pair(prices []float64) (fastMA, slowMA []float64, r Reading, err error) {
	fast, slow, vol := v.Lengths(prices)
	if len(prices) < slow+1 {
		return nil, nil, Reading{}, fmt.Errorf("volscaled needs %d prices, have %d: %w",
			slow+1, len(prices), types.ErrDataUnavailable)
	}
	fastMA = talib.Sma(prices, fast)
	slowMA = talib.Ema(prices, slow)
	n := len(prices)
	r = Reading{
		Strategy:   "volscaled",
		PrevFast:   fastMA[n-2],
		PrevSlow:   slowMA[n-2],
		LastFast:   fastMA[n-1],
		LastSlow:   slowMA[n-1],
		FastLength: fast,
		SlowLength: slow,
		MAType:     "SMA/EMA",
		Trend:      trendOf(prices[n-1], slowMA[n-1]),
		Volatility: vol,
	}
	return fastMA, slowMA, r, nil
}

func (v *VolScaled) Name() string   { return "volscaled" }
func (v *VolScaled) RSIGated() bool { return true }

func (v *VolScaled) Read(prices []float64) (Reading, error) {
	_, _, r, err := v.Pair(prices)
	return r, err
}

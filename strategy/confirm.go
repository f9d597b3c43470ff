package strategy

import (
	"errors"
	"time"

	"github.com/evdnx/goti"
	"github.com/evdnx/gotsma/types"
)

// confirmWarmup is the number of closes the goti HMA needs before its
// crossover flags mean anything.
const confirmWarmup = 10

// Confirmer runs a goti indicator suite over closed bars as a second opinion:
// a BUY can be held back while the suite's HMA reports a bearish crossover,
// and the suite RSI is attached to status snapshots.
type Confirmer struct {
	Suite *goti.IndicatorSuite
	last  time.Time
	bars  int
}

// NewConfirmer builds the suite from goti defaults with the RSI thresholds
// taken from the signal band.
func NewConfirmer(band RSIBand) (*Confirmer, error) {
	ic := goti.DefaultConfig()
	if band.BuyMax > band.SellMin {
		ic.RSIOverbought = band.BuyMax
		ic.RSIOversold = band.SellMin
	}
	suite, err := goti.NewIndicatorSuiteWithConfig(ic)
	if err != nil {
		return nil, err
	}
	return &Confirmer{Suite: suite}, nil
}

// Feed adds every bar newer than the last one fed and returns the count.
func (c *Confirmer) Feed(bars []types.Bar) (int, error) {
	added := 0
	for _, b := range bars {
		if !c.last.IsZero() && !b.Time.After(c.last) {
			continue
		}
		if err := c.Suite.Add(b.High, b.Low, b.Close, b.Volume); err != nil {
			return added, err
		}
		c.last = b.Time
		c.bars++
		added++
	}
	return added, nil
}

func (c *Confirmer) Ready() bool {
	return len(c.Suite.GetHMA().GetCloses()) >= confirmWarmup
}

// BearishHMA reports a bearish HMA crossover on the latest fed bar.
func (c *Confirmer) BearishHMA() (bool, error) {
	if !c.Ready() {
		return false, errors.New("confirmer warming up")
	}
	return c.Suite.GetHMA().IsBearishCrossover()
}

// RSI is the suite's latest RSI.
func (c *Confirmer) RSI() (float64, error) {
	return c.Suite.GetRSI().Calculate()
}

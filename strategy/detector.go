package strategy

import (
	"fmt"
	"sync"

	"github.com/evdnx/gotsma/indicator"
	"github.com/evdnx/gotsma/types"
)

// RSIBand gates crossover signals on the RSI of the same window. BUY needs
// BuyMin <= RSI <= BuyMax, SELL needs SellMin < RSI < SellMax.
type RSIBand struct {
	Period  int
	BuyMin  float64
	BuyMax  float64
	SellMin float64
	SellMax float64
}

// DefaultRSIBand mirrors the bot defaults.
func DefaultRSIBand() RSIBand {
	return RSIBand{Period: 14, BuyMin: 0, BuyMax: 70, SellMin: 30, SellMax: 50}
}

// Snapshot is the price/indicator state behind one evaluation.
type Snapshot struct {
	Signal    types.Signal
	Candidate types.Signal // before de-duplication
	Price     float64
	PrevPrice float64
	RSI       float64
	HasRSI    bool
	Reading   Reading
}

// Detector turns crossover readings into BUY/SELL signals and drops a signal
// equal to the last one committed. Evaluation and commit are separate so the
// caller can refuse a BUY (open position) without moving the state.
type Detector struct {
	mu    sync.Mutex
	cross Crossover
	band  RSIBand
	last  types.Signal
}

func NewDetector(cross Crossover, band RSIBand) *Detector {
	return &Detector{cross: cross, band: band}
}

func (d *Detector) Crossover() Crossover { return d.cross }

// Evaluate inspects a window of closed bars. The newest element of closed
// must be the last fully closed candle.
func (d *Detector) Evaluate(closed []float64) (Snapshot, error) {
	r, err := d.cross.Read(closed)
	if err != nil {
		return Snapshot{}, err
	}
	n := len(closed)
	snap := Snapshot{Price: closed[n-1], PrevPrice: closed[n-2], Reading: r}

	if rsi, ok := indicator.LastRSI(closed, d.band.Period); ok {
		snap.RSI, snap.HasRSI = rsi, true
	}

	var sig types.Signal
	if d.cross.RSIGated() {
		if !snap.HasRSI {
			return snap, fmt.Errorf("rsi(%d) needs %d prices, have %d: %w",
				d.band.Period, d.band.Period+1, n, types.ErrDataUnavailable)
		}
		switch {
		case r.CrossedOver() && snap.RSI >= d.band.BuyMin && snap.RSI <= d.band.BuyMax:
			sig = types.SignalBuy
		case r.CrossedUnder() && snap.RSI > d.band.SellMin && snap.RSI < d.band.SellMax:
			sig = types.SignalSell
		}
	} else {
		switch {
		case r.CrossedOver():
			sig = types.SignalBuy
		case r.CrossedUnder():
			sig = types.SignalSell
		}
	}
	snap.Candidate = sig

	d.mu.Lock()
	defer d.mu.Unlock()
	if sig != d.last {
		snap.Signal = sig
	}
	return snap, nil
}

// Commit records sig as the last emitted signal. NONE is ignored.
func (d *Detector) Commit(sig types.Signal) {
	if sig == types.SignalNone {
		return
	}
	d.mu.Lock()
	d.last = sig
	d.mu.Unlock()
}

func (d *Detector) Last() types.Signal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

package strategy

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/evdnx/gotsma/types"
)

// scripted returns one reading per call.
type scripted struct {
	readings []Reading
	gated    bool
	i        int
}

func (s *scripted) Name() string   { return "scripted" }
func (s *scripted) RSIGated() bool { return s.gated }

func (s *scripted) Read([]float64) (Reading, error) {
	r := s.readings[s.i%len(s.readings)]
	s.i++
	return r, nil
}

var (
	up   = Reading{PrevFast: 1, PrevSlow: 2, LastFast: 3, LastSlow: 2}
	down = Reading{PrevFast: 3, PrevSlow: 2, LastFast: 1, LastSlow: 2}
	flat = Reading{PrevFast: 3, PrevSlow: 2, LastFast: 3, LastSlow: 2}
)

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestDetectorDeduplicates(t *testing.T) {
	d := NewDetector(&scripted{readings: []Reading{up, up, flat, up, down, down, up}}, DefaultRSIBand())
	want := []types.Signal{types.SignalBuy, "", "", "", types.SignalSell, "", types.SignalBuy}
	for i, w := range want {
		snap, err := d.Evaluate(rising(20))
		if err != nil {
			t.Fatal(err)
		}
		if snap.Signal != w {
			t.Fatalf("step %d: got %q want %q", i, snap.Signal, w)
		}
		d.Commit(snap.Signal)
	}
}

// Over any sequence of readings the committed signals never repeat back to
// back.
func TestDetectorNeverRepeats(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []Reading{up, down, flat}
	readings := make([]Reading, 500)
	for i := range readings {
		readings[i] = pool[rng.Intn(len(pool))]
	}
	d := NewDetector(&scripted{readings: readings}, DefaultRSIBand())
	var last types.Signal
	for range readings {
		snap, err := d.Evaluate(rising(20))
		if err != nil {
			t.Fatal(err)
		}
		if snap.Signal == types.SignalNone {
			continue
		}
		if snap.Signal == last {
			t.Fatalf("signal %q emitted twice in a row", snap.Signal)
		}
		last = snap.Signal
		d.Commit(snap.Signal)
	}
}

// An uncommitted BUY (refused by the caller) is offered again next time.
func TestDetectorUncommittedBuyRepeats(t *testing.T) {
	d := NewDetector(&scripted{readings: []Reading{up}}, DefaultRSIBand())
	for i := 0; i < 2; i++ {
		snap, _ := d.Evaluate(rising(20))
		if snap.Signal != types.SignalBuy {
			t.Fatalf("call %d: expected BUY, got %q", i, snap.Signal)
		}
	}
	if d.Last() != types.SignalNone {
		t.Fatalf("nothing was committed")
	}
}

func TestDetectorRSIGate(t *testing.T) {
	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	tests := []struct {
		name    string
		reading Reading
		prices  []float64
		want    types.Signal
	}{
		{"buy blocked when overbought", up, rising(20), types.SignalNone},
		{"buy allowed when oversold", up, falling, types.SignalBuy},
		{"sell blocked at rsi 0", down, falling, types.SignalNone},
		{"sell blocked at rsi 100", down, rising(20), types.SignalNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(&scripted{readings: []Reading{tt.reading}, gated: true}, DefaultRSIBand())
			snap, err := d.Evaluate(tt.prices)
			if err != nil {
				t.Fatal(err)
			}
			if snap.Signal != tt.want || !snap.HasRSI {
				t.Fatalf("got %q (rsi %v) want %q", snap.Signal, snap.RSI, tt.want)
			}
		})
	}
}

func TestDetectorGatedNeedsRSI(t *testing.T) {
	d := NewDetector(&scripted{readings: []Reading{up}, gated: true}, DefaultRSIBand())
	if _, err := d.Evaluate(rising(10)); !errors.Is(err, types.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

/*
Prices 100, 99, 98, 97, 96, 95 then 100, 105, 110 with a 5-bar SMA. Closing
windows are fed one bar at a time; the price crosses back above the SMA at
index 6 and exactly one BUY comes out of the whole run.
*/
func TestDetectorRecoveryScenario(t *testing.T) {
	prices := []float64{100, 99, 98, 97, 96, 95, 100, 105, 110}
	d := NewDetector(SimpleCrossover{Length: 5}, DefaultRSIBand())
	buys, buyIdx := 0, -1
	for k := 2; k <= len(prices); k++ {
		snap, err := d.Evaluate(prices[:k])
		if errors.Is(err, types.ErrDataUnavailable) {
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if snap.Signal == types.SignalBuy {
			buys++
			buyIdx = k - 1
		}
		d.Commit(snap.Signal)
	}
	if buys != 1 || buyIdx != 6 {
		t.Fatalf("expected one BUY at index 6, got %d (last at %d)", buys, buyIdx)
	}
}

package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/evdnx/gotsma/sizer"
	"github.com/evdnx/gotsma/store"
	"github.com/evdnx/gotsma/types"
)

var recovery = []float64{100, 99, 98, 97, 96, 95, 100, 105, 110}

/*
Feeding the recovery series one bar at a time, the price closes back above
its 5-bar SMA at index 6. That bar is evaluated once it has closed, so the
BUY happens when the series has 8 bars, and only once.
*/
func TestRegularUpdateSingleBuyOnRecovery(t *testing.T) {
	f := newFixture(10000)
	e := f.engine(t, testConfig())
	var opened []types.TradeEvent
	e.Subscribe(func(ev types.TradeEvent) {
		if ev.Kind == types.EventOpened {
			opened = append(opened, ev)
		}
	})

	buyAt := 0
	for n := 2; n <= len(recovery); n++ {
		f.bars.SetCloses(recovery[:n]...)
		if err := e.RegularUpdate(context.Background()); err != nil {
			t.Fatalf("update %d: %v", n, err)
		}
		if buyAt == 0 && f.broker.OrdersBySide(types.Buy) > 0 {
			buyAt = n
		}
	}
	if got := f.broker.OrdersBySide(types.Buy); got != 1 {
		t.Fatalf("expected exactly one BUY, got %d", got)
	}
	if buyAt != 8 {
		t.Fatalf("BUY should follow the close of index 6, happened with %d bars", buyAt)
	}
	if len(opened) != 1 || opened[0].Qty != 0.5 || opened[0].Price != 105 {
		t.Fatalf("unexpected opened events %+v", opened)
	}
	if e.detector.Last() != types.SignalBuy {
		t.Fatalf("last signal should be BUY, got %q", e.detector.Last())
	}
}

func TestRegularUpdateBuyStartsMonitor(t *testing.T) {
	f := newFixture(10000)
	e := f.engine(t, testConfig())
	f.bars.SetCloses(recovery[:8]...)
	if err := e.RegularUpdate(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := e.Status()
	if st.Phase != PhaseWatching.String() || st.EntryPrice != 105 || st.TakeProfitPct != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, ok, _ := f.store.LoadTPSL(context.Background(), "BTC/USD", 105); !ok {
		t.Fatalf("tp/sl should be cached on entry")
	}

	f.price.Set(106.5) // above 105 * 1.01
	waitFor(t, "take profit close", func() bool { return f.broker.OrdersBySide(types.Sell) == 1 })
	waitFor(t, "monitor exit", func() bool { return !e.state.busy() })
	if c := f.store.Closed(); len(c) != 1 || c[0].Reason != ReasonTakeProfit {
		t.Fatalf("expected a take profit record, got %+v", c)
	}
}

func TestGuardSuppressesBuyWithOpenPosition(t *testing.T) {
	f := newFixture(10000)
	f.broker.SetPosition("BTC/USD", 0.5, 90)
	e := f.engine(t, testConfig())
	f.bars.SetCloses(recovery[:8]...)

	if err := e.RegularUpdate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.broker.Orders()); n != 0 {
		t.Fatalf("expected zero orders, got %d", n)
	}
	if !f.log.HasMessage("signal_suppressed_open_position") {
		t.Fatalf("suppression should be logged")
	}
	if e.detector.Last() != types.SignalNone {
		t.Fatalf("a suppressed BUY must not move the detector")
	}
}

func TestGuardFailsClosed(t *testing.T) {
	f := newFixture(10000)
	f.broker.PositionsErr = errors.New("broker down")
	e := f.engine(t, testConfig())
	open, err := e.Guard().HasOpenPosition(context.Background())
	if !open || err == nil {
		t.Fatalf("a broker error must read as open, got %v %v", open, err)
	}
}

func TestBuyInsufficientBalanceIsNotFatal(t *testing.T) {
	f := newFixture(10000)
	f.broker.SubmitErr = &types.OrderError{Op: "submit", Err: types.ErrInsufficientBalance, Payload: "insufficient balance"}
	e := f.engine(t, testConfig())
	f.bars.SetCloses(recovery[:8]...)

	if err := e.RegularUpdate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.ctx.Err() != nil {
		t.Fatalf("insufficient balance must not halt the engine")
	}
	if !f.log.HasMessage("buy_insufficient_balance") || e.state.busy() {
		t.Fatalf("expected a warning and no monitor")
	}
}

func TestBuyWithoutQuantityHalts(t *testing.T) {
	f := newFixture(0)
	e := f.engine(t, testConfig())
	f.bars.SetCloses(recovery[:8]...)

	_ = e.RegularUpdate(context.Background())
	select {
	case err := <-e.fatal:
		if !errors.Is(err, types.ErrNoQuantity) {
			t.Fatalf("expected ErrNoQuantity, got %v", err)
		}
	default:
		t.Fatalf("expected the engine to halt")
	}
	if e.ctx.Err() == nil {
		t.Fatalf("engine context should be cancelled")
	}
	if len(f.broker.Orders()) != 0 {
		t.Fatalf("no order expected")
	}
}

func TestSellSignalClosesPosition(t *testing.T) {
	f := newFixture(10000)
	f.broker.SetPosition("BTC/USD", 1, 100)
	e := f.engine(t, testConfig())
	f.bars.SetCloses(100, 101, 102, 103, 104, 105, 100, 99)

	if err := e.RegularUpdate(context.Background()); err != nil {
		t.Fatal(err)
	}
	orders := f.broker.Orders()
	if len(orders) != 1 || orders[0].Side != types.Sell || orders[0].Comment != ReasonSignalSell {
		t.Fatalf("expected one signal sell, got %+v", orders)
	}
	if c := f.store.Closed(); len(c) != 1 || c[0].PnL != -1 {
		t.Fatalf("expected pnl -1 at the live price 99, got %+v", c)
	}
}

func TestManualSell(t *testing.T) {
	f := newFixture(10000)
	f.broker.SetPosition("BTC/USD", 0.5, 100)
	e := f.engine(t, testConfig())
	f.price.Set(102)

	res, err := e.ManualSell(context.Background())
	if err != nil {
		t.Fatalf("ManualSell: %v", err)
	}
	if res.Reason != ReasonManual || res.Qty != 0.5 || math.Abs(res.PnL-1) > 1e-9 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := e.ManualSell(context.Background()); !errors.Is(err, types.ErrNoPosition) {
		t.Fatalf("second sell should find no position, got %v", err)
	}
}

func TestBuySizing(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfit = "auto"

	tests := []struct {
		name  string
		sizer sizer.Sizer
		qty   float64
		tp    float64
		sl    float64
	}{
		{"no sizer", nil, 0.5, 1, 1},
		{"sizer answer", fixedSizer{s: sizer.Suggestion{Qty: 0.0123456789, TakeProfitPct: 0.8, StopLossPct: 4}}, 0.012345, 0.8, 1},
		{"sizer down", fixedSizer{err: types.ErrServiceUnavailable}, 0.5, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(10000)
			d := f.deps()
			d.Sizer = tt.sizer
			e, err := New(cfg, d)
			if err != nil {
				t.Fatal(err)
			}
			defer e.Stop()
			res, err := e.Executor().Buy(context.Background(), 100)
			if err != nil {
				t.Fatalf("Buy: %v", err)
			}
			if res.Qty != tt.qty || res.TakeProfitPct != tt.tp || res.StopLossPct != tt.sl {
				t.Fatalf("got qty=%v tp=%v sl=%v", res.Qty, res.TakeProfitPct, res.StopLossPct)
			}
		})
	}
}

func TestBuyRejectsInvalidPrice(t *testing.T) {
	f := newFixture(10000)
	e := f.engine(t, testConfig())
	if _, err := e.Executor().Buy(context.Background(), math.NaN()); !errors.Is(err, types.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestStartResumesWithCachedLevels(t *testing.T) {
	flat := []float64{100.2, 100.4, 100.3, 100.5, 100.4, 100.6, 100.5, 100.6}
	tests := []struct {
		name        string
		cachedEntry float64
		tp, sl      float64
	}{
		{"within tolerance", 100, 0.8, 2},
		{"stale cache", 90, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(10000, flat...)
			f.broker.SetPosition("BTC/USD", 0.5, 100.5)
			_ = f.store.SaveTPSL(context.Background(), store.TPSL{
				Symbol: "BTC/USD", EntryPrice: tt.cachedEntry, TakeProfitPct: 0.8, StopLossPct: 2,
			})
			e := f.engine(t, testConfig())

			if err := e.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			st := e.Status()
			if st.Phase != PhaseWatching.String() || st.TakeProfitPct != tt.tp || st.StopLossPct != tt.sl {
				t.Fatalf("unexpected status %+v", st)
			}
			if err := e.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if len(f.broker.Orders()) != 0 {
				t.Fatalf("no order expected")
			}
		})
	}
}

func TestStartFailures(t *testing.T) {
	t.Run("not tradable", func(t *testing.T) {
		f := newFixture(10000, recovery...)
		f.broker.Halted = true
		e := f.engine(t, testConfig())
		if err := e.Start(context.Background()); !errors.Is(err, types.ErrDataUnavailable) {
			t.Fatalf("expected ErrDataUnavailable, got %v", err)
		}
	})
	t.Run("no history", func(t *testing.T) {
		f := newFixture(10000)
		e := f.engine(t, testConfig())
		if err := e.Start(context.Background()); !errors.Is(err, types.ErrDataUnavailable) {
			t.Fatalf("expected ErrDataUnavailable, got %v", err)
		}
	})
}

func TestCrossunderToggle(t *testing.T) {
	f := newFixture(10000)
	e := f.engine(t, testConfig())
	if e.CrossunderEnabled() {
		t.Fatalf("disabled by default")
	}
	e.SetCrossunder(true)
	if !e.CrossunderEnabled() || !e.Status().Crossunder {
		t.Fatalf("toggle not applied")
	}
}

func TestPositionLoggingOnce(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePositionLogging = true
	f := newFixture(10000, 100, 100.5)
	e := f.engine(t, cfg)
	for i := 0; i < 3; i++ {
		_ = e.RegularUpdate(context.Background())
	}
	if n := f.log.Count("no_open_position"); n != 1 {
		t.Fatalf("expected one no_open_position line, got %d", n)
	}
}

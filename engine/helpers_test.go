package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evdnx/gotsma/config"
	"github.com/evdnx/gotsma/marketdata"
	"github.com/evdnx/gotsma/sizer"
	"github.com/evdnx/gotsma/store"
	"github.com/evdnx/gotsma/testutils"
	"github.com/evdnx/gotsma/types"
)

// memStore is an in-memory TradeStore.
type memStore struct {
	mu      sync.Mutex
	events  []types.TradeEvent
	closed  []types.ClosedPosition
	tpsl    map[string]store.TPSL
	cleared int
}

func newMemStore() *memStore { return &memStore{tpsl: make(map[string]store.TPSL)} }

func (m *memStore) Record(_ context.Context, ev types.TradeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) SaveTPSL(_ context.Context, v store.TPSL) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tpsl[v.Symbol] = v
	return nil
}

func (m *memStore) LoadTPSL(_ context.Context, symbol string, entry float64) (store.TPSL, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tpsl[symbol]
	if !ok || !store.WithinTolerance(v.EntryPrice, entry) {
		delete(m.tpsl, symbol)
		return store.TPSL{}, false, nil
	}
	return v, true, nil
}

func (m *memStore) ClearTPSL(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tpsl, symbol)
	m.cleared++
	return nil
}

func (m *memStore) RecordClosed(_ context.Context, c types.ClosedPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, c)
	return nil
}

func (m *memStore) RecentClosed(_ context.Context, symbol string, n int) ([]types.ClosedPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ClosedPosition(nil), m.closed...), nil
}

func (m *memStore) Events() []types.TradeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.TradeEvent(nil), m.events...)
}

func (m *memStore) Closed() []types.ClosedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ClosedPosition(nil), m.closed...)
}

type fixedSizer struct {
	s   sizer.Suggestion
	err error
}

func (f fixedSizer) Suggest(context.Context, float64, float64, string) (sizer.Suggestion, error) {
	return f.s, f.err
}

// testConfig is a simple-crossover bot on BTC/USD with instant timings.
func testConfig() config.BotConfig {
	cfg := config.Default()
	cfg.Symbol = "BTC/USD"
	cfg.Strategy = config.StrategySimple
	cfg.BaseLength = 5
	cfg.DefaultQty = 0.5
	cfg.TakeProfit = "1"
	cfg.StopLoss = "1"
	cfg.ExitPollInterval = time.Millisecond
	cfg.StartupDelay = 0
	cfg.RequestTimeout = time.Second
	return cfg
}

type fixture struct {
	broker   *testutils.MockBroker
	bars     *testutils.StaticBars
	price    *marketdata.PriceCell
	store    *memStore
	notifier *testutils.MockNotifier
	log      *testutils.MockLogger
}

func newFixture(cash float64, closes ...float64) *fixture {
	return &fixture{
		broker:   testutils.NewMockBroker(cash),
		bars:     testutils.NewStaticBars(closes...),
		price:    marketdata.NewPriceCell(),
		store:    newMemStore(),
		notifier: testutils.NewMockNotifier(),
		log:      testutils.NewMockLogger(),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Broker:   f.broker,
		Source:   f.bars,
		Price:    f.price,
		Store:    f.store,
		Notifier: f.notifier,
		Log:      f.log,
	}
}

func (f *fixture) engine(t *testing.T, cfg config.BotConfig) *Engine {
	t.Helper()
	e, err := New(cfg, f.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

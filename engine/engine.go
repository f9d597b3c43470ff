// Package engine runs one trading bot: the scheduled regular update that
// turns bars into signals, the position guard, the trade executor and the
// exit monitor of the open position.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evdnx/gotsma/config"
	"github.com/evdnx/gotsma/executor"
	"github.com/evdnx/gotsma/logger"
	"github.com/evdnx/gotsma/marketdata"
	"github.com/evdnx/gotsma/metrics"
	"github.com/evdnx/gotsma/notify"
	"github.com/evdnx/gotsma/sizer"
	"github.com/evdnx/gotsma/strategy"
	"github.com/evdnx/gotsma/types"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
)

const (
	heartbeatSchedule = "@every 10m"
	recentClosedLog   = 5
)

// Runner is a long-lived background task such as the live price feed.
type Runner interface {
	Run(ctx context.Context) error
}

// Deps are the collaborators of an Engine. Broker and Source are required;
// the rest fall back to no-op or log-only implementations.
type Deps struct {
	Broker   executor.Broker
	Source   marketdata.Source
	Price    *marketdata.PriceCell
	Feed     Runner
	Sizer    sizer.Sizer
	Store    TradeStore
	Notifier notify.Sink
	Log      logger.Logger
}

// Status is a point-in-time view for the ops surface.
type Status struct {
	Symbol        string    `json:"symbol"`
	Strategy      string    `json:"strategy"`
	Timeframe     string    `json:"timeframe"`
	Price         float64   `json:"price"`
	HasPrice      bool      `json:"has_price"`
	LastSignal    string    `json:"last_signal"`
	Phase         string    `json:"phase"`
	EntryPrice    float64   `json:"entry_price,omitempty"`
	Qty           float64   `json:"qty,omitempty"`
	TakeProfitPct float64   `json:"take_profit_pct,omitempty"`
	StopLossPct   float64   `json:"stop_loss_pct,omitempty"`
	Crossunder    bool      `json:"crossunder_enabled"`
	SeriesLen     int       `json:"series_len"`
	LastUpdate    time.Time `json:"last_update"`
}

type Engine struct {
	cfg      config.BotConfig
	broker   executor.Broker
	source   marketdata.Source
	price    *marketdata.PriceCell
	feed     Runner
	log      logger.Logger
	series   *strategy.PriceSeries
	detector *strategy.Detector
	confirm  *strategy.Confirmer
	state    *positionState
	guard    *PositionGuard
	exec     *TradeExecutor

	crossunder atomic.Bool
	noPosition atomic.Bool
	lastUpdate atomic.Int64
	updateMu   sync.Mutex

	subMu sync.RWMutex
	subs  []func(types.TradeEvent)
	store TradeStore

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fatal   chan error
	feedErr chan error
	stopped atomic.Bool
}

// New builds an engine for cfg. cfg is expected to be validated.
func New(cfg config.BotConfig, d Deps) (*Engine, error) {
	if d.Broker == nil || d.Source == nil {
		return nil, errors.New("engine needs a broker and a market data source")
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Price == nil {
		d.Price = marketdata.NewPriceCell()
	}
	if d.Store == nil {
		d.Store = nopStore{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogSink{Log: d.Log}
	}
	cross, err := strategy.NewCrossover(cfg)
	if err != nil {
		return nil, err
	}
	band := strategy.RSIBand{
		Period: cfg.RSIPeriod, BuyMin: cfg.RSIBuyMin, BuyMax: cfg.RSIBuyMax,
		SellMin: cfg.RSISellMin, SellMax: cfg.RSISellMax,
	}

	e := &Engine{
		cfg:      cfg,
		broker:   d.Broker,
		source:   d.Source,
		price:    d.Price,
		feed:     d.Feed,
		log:      d.Log,
		series:   strategy.NewPriceSeries(cfg.MaxSeries),
		detector: strategy.NewDetector(cross, band),
		state:    &positionState{},
		store:    d.Store,
		fatal:    make(chan error, 1),
		feedErr:  make(chan error, 1),
	}
	if cfg.ConfirmWithHMA {
		if e.confirm, err = strategy.NewConfirmer(band); err != nil {
			return nil, fmt.Errorf("confirmation suite: %w", err)
		}
	}
	e.crossunder.Store(cfg.EnableCrossunder)
	e.guard = NewPositionGuard(d.Broker, cfg.Symbol, e.state)
	e.exec = &TradeExecutor{
		cfg:     cfg,
		broker:  d.Broker,
		sizer:   d.Sizer,
		store:   d.Store,
		notify:  d.Notifier,
		price:   d.Price,
		state:   e.state,
		log:     d.Log,
		emit:    e.publish,
		timeout: cfg.RequestTimeout,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

func (e *Engine) Guard() *PositionGuard { return e.guard }

func (e *Engine) Executor() *TradeExecutor { return e.exec }

func (e *Engine) Series() *strategy.PriceSeries { return e.series }

// Subscribe registers fn for every trade event. fn runs synchronously on the
// trading path and must not block.
func (e *Engine) Subscribe(fn func(types.TradeEvent)) {
	e.subMu.Lock()
	e.subs = append(e.subs, fn)
	e.subMu.Unlock()
}

func (e *Engine) publish(ev types.TradeEvent) {
	if err := e.store.Record(e.ctx, ev); err != nil {
		e.log.Warn("trade_log_write_failed", logger.Err(err))
	}
	e.subMu.RLock()
	subs := append(([]func(types.TradeEvent))(nil), e.subs...)
	e.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Engine) SetCrossunder(on bool) {
	e.crossunder.Store(on)
	e.log.Info("crossunder_toggled", logger.Bool("enabled", on))
}

func (e *Engine) CrossunderEnabled() bool { return e.crossunder.Load() }

// Run starts the engine and blocks until ctx ends or a fatal error halts it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return multierr.Append(err, e.Stop())
	}
	select {
	case <-ctx.Done():
	case <-e.ctx.Done():
	}
	var runErr error
	select {
	case runErr = <-e.fatal:
	default:
	}
	return multierr.Append(runErr, e.Stop())
}

// Start performs the startup sequence and schedules the regular update. It
// returns once the schedule is running; an error means the bot must not
// trade.
func (e *Engine) Start(ctx context.Context) error {
	context.AfterFunc(ctx, e.cancel)
	ctx = e.ctx

	e.log.Info("engine_starting",
		logger.String("symbol", e.cfg.Symbol),
		logger.String("timeframe", string(e.cfg.Timeframe)),
		logger.String("strategy", e.detector.Crossover().Name()),
	)

	cctx, cancel := e.exec.withTimeout(ctx)
	acct, err := e.broker.Account(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("account check: %w", err)
	}
	e.log.Info("account",
		logger.Float64("cash", acct.Cash),
		logger.Float64("buying_power", acct.BuyingPower),
		logger.Float64("portfolio_value", acct.PortfolioValue),
	)

	cctx, cancel = e.exec.withTimeout(ctx)
	asset, err := e.broker.AssetStatus(cctx, e.cfg.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("asset status: %w", err)
	}
	if !asset.Tradable {
		return fmt.Errorf("%s is not tradable (status %q): %w", e.cfg.Symbol, asset.Status, types.ErrDataUnavailable)
	}

	e.logRecentClosed(ctx)
	if err := e.resumeExisting(ctx); err != nil {
		return err
	}

	cctx, cancel = e.exec.withTimeout(ctx)
	bars, err := e.source.Bars(cctx, e.cfg.Symbol, e.cfg.Timeframe, e.cfg.BootstrapLimit())
	cancel()
	if err != nil {
		return fmt.Errorf("historical bars: %w", err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no historical bars for %s: %w", e.cfg.Symbol, types.ErrDataUnavailable)
	}
	e.ingest(bars)
	e.logAnalysis()

	if e.feed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.feed.Run(ctx); err != nil {
				e.feedErr <- err
			}
		}()
	}

	if e.cfg.StartupDelay > 0 {
		e.log.Info("startup_delay", logger.Duration("wait", e.cfg.StartupDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.StartupDelay):
		}
	}
	if err := e.RegularUpdate(ctx); err != nil {
		e.log.Warn("regular_update_failed", logger.Err(err))
	}

	e.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := "@every " + e.cfg.Timeframe.Interval().String()
	if _, err := e.cron.AddFunc(schedule, func() {
		if err := e.RegularUpdate(ctx); err != nil {
			e.log.Warn("regular_update_failed", logger.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("register regular update: %w", err)
	}
	if e.cfg.Timeframe.Intraday() {
		if _, err := e.cron.AddFunc(heartbeatSchedule, e.heartbeat); err != nil {
			return fmt.Errorf("register heartbeat: %w", err)
		}
	}
	e.cron.Start()
	e.log.Info("engine_started", logger.String("schedule", schedule))
	return nil
}

// Stop cancels every task and waits for monitors and the feed to return. It
// is safe to call more than once.
func (e *Engine) Stop() error {
	if e.stopped.Swap(true) {
		return nil
	}
	e.cancel()
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.wg.Wait()
	var err error
	select {
	case ferr := <-e.feedErr:
		err = multierr.Append(err, fmt.Errorf("live feed: %w", ferr))
	default:
	}
	metrics.PositionsOpen.Set(0)
	e.log.Info("engine_stopped")
	return err
}

// fail halts the engine after a fault that makes trading unsafe.
func (e *Engine) fail(err error) {
	e.log.Error("engine_halted", logger.Err(err))
	e.exec.send(e.ctx, "Bot Halted", fmt.Sprintf("%s: %v", e.cfg.Symbol, err))
	select {
	case e.fatal <- err:
	default:
	}
	e.cancel()
}

func (e *Engine) ingest(bars []types.Bar) {
	if len(bars) == 0 {
		return
	}
	e.series.AppendBars(bars)
	last := bars[len(bars)-1].Close
	if e.price.Set(last) {
		metrics.LastPrice.Set(last)
	}
	if e.confirm != nil && len(bars) > 1 {
		// the newest bar is still forming
		if _, err := e.confirm.Feed(bars[:len(bars)-1]); err != nil {
			e.log.Warn("confirmation_feed_failed", logger.Err(err))
		}
	}
	e.lastUpdate.Store(time.Now().UnixMilli())
}

// RegularUpdate fetches the latest bars, evaluates the detector on closed
// bars and acts on the signal. Data problems skip the cycle; only faults
// that make trading unsafe halt the engine.
func (e *Engine) RegularUpdate(ctx context.Context) error {
	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	cctx, cancel := e.exec.withTimeout(ctx)
	bars, err := e.source.Bars(cctx, e.cfg.Symbol, e.cfg.Timeframe, e.cfg.HistoryLimit)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no bars for %s: %w", e.cfg.Symbol, types.ErrDataUnavailable)
	}
	e.ingest(bars)

	if e.cfg.EnablePositionLogging {
		e.logPosition(ctx)
	}

	if n := e.series.Len(); n < e.cfg.BaseLength {
		e.log.Debug("insufficient_data", logger.Int("prices", n), logger.Int("need", e.cfg.BaseLength))
		return nil
	}
	snap, err := e.detector.Evaluate(e.series.Closed())
	if err != nil {
		if errors.Is(err, types.ErrDataUnavailable) {
			e.log.Debug("insufficient_data", logger.Err(err))
			return nil
		}
		return err
	}
	e.log.Debug("signal_evaluated",
		logger.String("candidate", string(snap.Candidate)),
		logger.String("signal", string(snap.Signal)),
		logger.Float64("price", snap.Price),
		logger.Float64("rsi", snap.RSI),
		logger.Float64("fast", snap.Reading.LastFast),
		logger.Float64("slow", snap.Reading.LastSlow),
	)

	switch snap.Signal {
	case types.SignalBuy:
		e.onBuy(ctx, snap)
	case types.SignalSell:
		e.onSell(ctx)
	}
	return nil
}

func (e *Engine) onBuy(ctx context.Context, snap strategy.Snapshot) {
	cctx, cancel := e.exec.withTimeout(ctx)
	open, err := e.guard.HasOpenPosition(cctx)
	cancel()
	if err != nil {
		e.log.Warn("position_check_failed", logger.Err(err))
		return
	}
	if open {
		e.log.Info("signal_suppressed_open_position", logger.String("symbol", e.cfg.Symbol))
		return
	}
	if e.confirm != nil && e.confirm.Ready() {
		if bearish, err := e.confirm.BearishHMA(); err == nil && bearish {
			e.log.Info("signal_suppressed_hma", logger.String("symbol", e.cfg.Symbol))
			return
		}
	}

	e.detector.Commit(types.SignalBuy)
	metrics.SignalsEmitted.WithLabelValues(string(types.SignalBuy)).Inc()
	e.log.Info("signal_emitted",
		logger.String("signal", string(types.SignalBuy)),
		logger.Float64("price", snap.Price),
		logger.Float64("rsi", snap.RSI),
	)

	price, ok := e.price.Price()
	if !ok {
		e.fail(fmt.Errorf("buy without a live price: %w", types.ErrInvalidPrice))
		return
	}
	res, err := e.exec.Buy(ctx, price)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrInvalidPrice), errors.Is(err, types.ErrNoQuantity):
		e.fail(err)
		return
	case errors.Is(err, types.ErrInsufficientBalance):
		e.log.Warn("buy_insufficient_balance", logger.Err(err))
		return
	default:
		e.log.Error("buy_failed", logger.Err(err))
		return
	}
	e.startMonitor(ExitPlan{
		Symbol: e.cfg.Symbol, EntryPrice: res.Price, Qty: res.Qty,
		TakeProfitPct: res.TakeProfitPct, StopLossPct: res.StopLossPct,
	})
}

func (e *Engine) onSell(ctx context.Context) {
	e.detector.Commit(types.SignalSell)
	metrics.SignalsEmitted.WithLabelValues(string(types.SignalSell)).Inc()
	e.log.Info("signal_emitted", logger.String("signal", string(types.SignalSell)))

	res, err := e.exec.Sell(ctx, ReasonSignalSell)
	switch {
	case errors.Is(err, types.ErrNoPosition):
		e.log.Info("sell_signal_no_position", logger.String("symbol", e.cfg.Symbol))
	case err != nil:
		e.log.Error("sell_failed", logger.Err(err))
	default:
		e.log.Info("position_closed", logger.String("reason", res.Reason), logger.Float64("pnl", res.PnL))
	}
}

// ManualSell closes the whole position at the live price.
func (e *Engine) ManualSell(ctx context.Context) (ExitResult, error) {
	return e.exec.Sell(ctx, ReasonManual)
}

// startMonitor runs an exit monitor for plan in the background.
func (e *Engine) startMonitor(plan ExitPlan) bool {
	gen, ok := e.state.open(plan)
	if !ok {
		e.log.Warn("exit_monitor_already_running", logger.String("symbol", plan.Symbol))
		return false
	}
	m := &ExitMonitor{
		plan:       plan,
		gen:        gen,
		state:      e.state,
		broker:     e.broker,
		price:      e.price,
		exec:       e.exec,
		crossunder: e.crossedUnder,
		enabled:    e.crossunder.Load,
		interval:   e.cfg.ExitPollInterval,
		log:        e.log,
	}
	metrics.PositionsOpen.Set(1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		res := m.Run(e.ctx)
		if e.state.check(gen) != PhaseWatching {
			metrics.PositionsOpen.Set(0)
		}
		e.log.Info("exit_monitor_stopped",
			logger.String("reason", res.Reason),
			logger.Bool("closed", res.Closed),
			logger.Float64("pnl", res.PnL),
			logger.Err(res.Err),
		)
	}()
	return true
}

// crossedUnder refreshes the series and re-reads the crossover over every
// stored price, the forming bar included.
func (e *Engine) crossedUnder(ctx context.Context) bool {
	cctx, cancel := e.exec.withTimeout(ctx)
	bars, err := e.source.Bars(cctx, e.cfg.Symbol, e.cfg.Timeframe, e.cfg.HistoryLimit)
	cancel()
	if err != nil {
		e.log.Debug("crossunder_refresh_failed", logger.Err(err))
	} else {
		e.series.AppendBars(bars)
	}
	r, err := e.detector.Crossover().Read(e.series.Values())
	if err != nil {
		return false
	}
	return r.CrossedUnder()
}

// resumeExisting picks up a position left open by a previous run, with the
// cached TP/SL when it was written for this entry.
func (e *Engine) resumeExisting(ctx context.Context) error {
	cctx, cancel := e.exec.withTimeout(ctx)
	pos, ok, err := executor.FindPosition(cctx, e.broker, e.cfg.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("existing positions: %w", err)
	}
	if !ok {
		return nil
	}
	plan := ExitPlan{Symbol: e.cfg.Symbol, EntryPrice: pos.AvgEntryPrice, Qty: pos.Qty}
	plan.TakeProfitPct, plan.StopLossPct = DefaultLevels(e.cfg)
	cached, hit, err := e.store.LoadTPSL(ctx, e.cfg.Symbol, pos.AvgEntryPrice)
	switch {
	case err != nil:
		e.log.Warn("tpsl_cache_read_failed", logger.Err(err))
	case hit:
		plan.TakeProfitPct, plan.StopLossPct = cached.TakeProfitPct, cached.StopLossPct
	}
	e.log.Info("resuming_position",
		logger.Float64("entry", plan.EntryPrice),
		logger.Float64("qty", plan.Qty),
		logger.Bool("cached_levels", hit),
		logger.Float64("take_profit_pct", plan.TakeProfitPct),
		logger.Float64("stop_loss_pct", plan.StopLossPct),
	)
	e.startMonitor(plan)
	return nil
}

func (e *Engine) logRecentClosed(ctx context.Context) {
	closed, err := e.store.RecentClosed(ctx, e.cfg.Symbol, recentClosedLog)
	if err != nil {
		e.log.Warn("closed_history_read_failed", logger.Err(err))
		return
	}
	for _, c := range closed {
		e.log.Info("closed_position",
			logger.Time("exit_time", c.ExitTime),
			logger.String("reason", c.Reason),
			logger.Float64("entry", c.EntryPrice),
			logger.Float64("exit", c.ExitPrice),
			logger.Float64("pnl", c.PnL),
		)
	}
}

func (e *Engine) logAnalysis() {
	r, err := e.detector.Crossover().Read(e.series.Closed())
	if err != nil {
		e.log.Info("initial_analysis_skipped", logger.Err(err), logger.Int("prices", e.series.Len()))
		return
	}
	e.log.Info("initial_analysis",
		logger.String("strategy", r.Strategy),
		logger.String("ma_type", r.MAType),
		logger.Int("fast_length", r.FastLength),
		logger.Int("slow_length", r.SlowLength),
		logger.Float64("score", r.Score),
		logger.Float64("r_squared", r.RSquared),
		logger.String("trend", r.Trend.String()),
		logger.Float64("volatility", r.Volatility),
	)
}

func (e *Engine) logPosition(ctx context.Context) {
	cctx, cancel := e.exec.withTimeout(ctx)
	pos, ok, err := executor.FindPosition(cctx, e.broker, e.cfg.Symbol)
	cancel()
	if err != nil {
		e.log.Warn("position_check_failed", logger.Err(err))
		return
	}
	if !ok {
		if !e.noPosition.Swap(true) {
			e.log.Info("no_open_position", logger.String("symbol", e.cfg.Symbol))
		}
		return
	}
	e.noPosition.Store(false)
	e.log.Info("position_snapshot",
		logger.Float64("qty", pos.Qty),
		logger.Float64("entry", pos.AvgEntryPrice),
		logger.Float64("current", pos.CurrentPrice),
		logger.Float64("unrealized_pl", pos.UnrealizedPL),
	)
}

func (e *Engine) heartbeat() {
	price, _ := e.price.Price()
	e.log.Info("heartbeat",
		logger.Float64("price", price),
		logger.Int("prices", e.series.Len()),
		logger.String("phase", e.state.snapshot().Phase.String()),
	)
}

func (e *Engine) Status() Status {
	price, ok := e.price.Price()
	info := e.state.snapshot()
	st := Status{
		Symbol:     e.cfg.Symbol,
		Strategy:   e.detector.Crossover().Name(),
		Timeframe:  string(e.cfg.Timeframe),
		Price:      price,
		HasPrice:   ok,
		LastSignal: string(e.detector.Last()),
		Phase:      info.Phase.String(),
		Crossunder: e.crossunder.Load(),
		SeriesLen:  e.series.Len(),
	}
	if info.Phase == PhaseWatching || info.Phase == PhaseClosing {
		st.EntryPrice, st.Qty = info.EntryPrice, info.Qty
		st.TakeProfitPct, st.StopLossPct = info.TakeProfitPct, info.StopLossPct
	}
	if ms := e.lastUpdate.Load(); ms > 0 {
		st.LastUpdate = time.UnixMilli(ms)
	}
	return st
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/evdnx/gotsma/config"
	"github.com/evdnx/gotsma/executor"
	"github.com/evdnx/gotsma/logger"
	"github.com/evdnx/gotsma/marketdata"
	"github.com/evdnx/gotsma/metrics"
	"github.com/evdnx/gotsma/notify"
	"github.com/evdnx/gotsma/risk"
	"github.com/evdnx/gotsma/sizer"
	"github.com/evdnx/gotsma/store"
	"github.com/evdnx/gotsma/types"
	"github.com/google/uuid"
)

// Exit and trade reasons as they appear in events and notifications.
const (
	ReasonSignalBuy  = "Signal BUY"
	ReasonSignalSell = "Signal SELL"
	ReasonCrossunder = "MA Crossunder"
	ReasonTakeProfit = "Take Profit"
	ReasonStopLoss   = "Stop Loss"
	ReasonManual     = "Manual Sell"
	ReasonResumed    = "Resumed"
)

// TradeStore is the persistence the engine writes to. Failures are logged
// and never stop trading.
type TradeStore interface {
	Record(ctx context.Context, ev types.TradeEvent) error
	SaveTPSL(ctx context.Context, v store.TPSL) error
	LoadTPSL(ctx context.Context, symbol string, entry float64) (store.TPSL, bool, error)
	ClearTPSL(ctx context.Context, symbol string) error
	RecordClosed(ctx context.Context, c types.ClosedPosition) error
	RecentClosed(ctx context.Context, symbol string, n int) ([]types.ClosedPosition, error)
}

type nopStore struct{}

func (nopStore) Record(context.Context, types.TradeEvent) error { return nil }
func (nopStore) SaveTPSL(context.Context, store.TPSL) error     { return nil }
func (nopStore) LoadTPSL(context.Context, string, float64) (store.TPSL, bool, error) {
	return store.TPSL{}, false, nil
}
func (nopStore) ClearTPSL(context.Context, string) error                  { return nil }
func (nopStore) RecordClosed(context.Context, types.ClosedPosition) error { return nil }
func (nopStore) RecentClosed(context.Context, string, int) ([]types.ClosedPosition, error) {
	return nil, nil
}

// BuyResult describes a filled BUY.
type BuyResult struct {
	OrderID       string
	Qty           float64
	Price         float64
	TakeProfitPct float64
	StopLossPct   float64
	Sized         bool // quantity and levels came from the sizer
}

// ExitResult describes how a close attempt (or a monitor) ended.
type ExitResult struct {
	Reason    string
	Closed    bool
	ExitPrice float64
	Qty       float64
	PnL       float64
	PnLPct    float64
	OrderID   string
	Err       error
}

// TradeExecutor places the opening and closing orders and fans the outcome
// out to the store, the notifier and event subscribers.
type TradeExecutor struct {
	cfg     config.BotConfig
	broker  executor.Broker
	sizer   sizer.Sizer
	store   TradeStore
	notify  notify.Sink
	price   marketdata.LivePrice
	state   *positionState
	log     logger.Logger
	emit    func(types.TradeEvent)
	timeout time.Duration
}

func (x *TradeExecutor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if x.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, x.timeout)
}

// DefaultLevels are the TP/SL used without a sizer answer or a cached pair:
// the configured value clamped to the manual range, or 1% for "auto".
func DefaultLevels(cfg config.BotConfig) (tp, sl float64) {
	tp, sl = risk.DefaultPercent, risk.DefaultPercent
	if p := cfg.TakeProfitPercent(); !p.Auto {
		tp = risk.ClampManualTP(p.Value)
	}
	if p := cfg.StopLossPercent(); !p.Auto {
		sl = risk.ClampManualSL(p.Value)
	}
	return tp, sl
}

// Buy sizes and submits a market buy at price. ErrInvalidPrice and
// ErrNoQuantity mean monitoring cannot safely continue; a refusal from the
// broker comes back as *types.OrderError.
func (x *TradeExecutor) Buy(ctx context.Context, price float64) (BuyResult, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return BuyResult{}, fmt.Errorf("buy at %v: %w", price, types.ErrInvalidPrice)
	}
	cctx, cancel := x.withTimeout(ctx)
	acct, err := x.broker.Account(cctx)
	cancel()
	if err != nil {
		return BuyResult{}, fmt.Errorf("fetch account: %w", err)
	}

	res := BuyResult{Price: price}
	res.TakeProfitPct, res.StopLossPct = DefaultLevels(x.cfg)
	res.Qty = risk.FallbackQty(x.cfg.DefaultQty, acct.Cash, price)

	tpCfg, slCfg := x.cfg.TakeProfitPercent(), x.cfg.StopLossPercent()
	if (tpCfg.Auto || slCfg.Auto) && x.sizer != nil {
		sctx, cancel := x.withTimeout(ctx)
		s, err := x.sizer.Suggest(sctx, acct.Cash, price, x.cfg.Symbol)
		cancel()
		switch {
		case err != nil:
			x.log.Warn("sizer_unavailable", logger.Err(err))
		default:
			if q := risk.FloorQty(s.Qty, risk.QtyPrecision); q > 0 {
				res.Qty = q
			}
			if tpCfg.Auto {
				res.TakeProfitPct = s.TakeProfitPct
			}
			if slCfg.Auto {
				res.StopLossPct = s.StopLossPct
			}
			res.Sized = true
		}
	}
	if res.Qty <= 0 {
		return BuyResult{}, fmt.Errorf("cash %.2f at price %.2f: %w", acct.Cash, price, types.ErrNoQuantity)
	}

	order := types.Order{
		Symbol:        x.cfg.Symbol,
		Side:          types.Buy,
		Qty:           res.Qty,
		Price:         price,
		TimeInForce:   "gtc",
		ClientOrderID: uuid.NewString(),
		Comment:       ReasonSignalBuy,
	}
	cctx, cancel = x.withTimeout(ctx)
	id, err := x.broker.Submit(cctx, order)
	cancel()
	if err != nil {
		metrics.OrderFailures.WithLabelValues(string(types.Buy)).Inc()
		return BuyResult{}, err
	}
	res.OrderID = id
	metrics.OrdersSubmitted.WithLabelValues(string(types.Buy), ReasonSignalBuy).Inc()
	x.log.Info("order_submitted",
		logger.String("side", string(types.Buy)),
		logger.String("symbol", x.cfg.Symbol),
		logger.Float64("qty", res.Qty),
		logger.Float64("price", price),
		logger.Float64("take_profit_pct", res.TakeProfitPct),
		logger.Float64("stop_loss_pct", res.StopLossPct),
		logger.String("order_id", id),
	)

	if err := x.store.SaveTPSL(ctx, store.TPSL{
		Symbol: x.cfg.Symbol, EntryPrice: price,
		TakeProfitPct: res.TakeProfitPct, StopLossPct: res.StopLossPct,
	}); err != nil {
		x.log.Warn("tpsl_cache_write_failed", logger.Err(err))
	}
	x.emit(types.TradeEvent{
		Kind: types.EventOpened, Symbol: x.cfg.Symbol, Side: types.Buy, Qty: res.Qty,
		Price: price, EntryPrice: price, Reason: ReasonSignalBuy, OrderID: id, Time: time.Now(),
	})
	x.send(ctx, "Position Opened", fmt.Sprintf("Bought %.6f %s at %.2f (TP %.2f%% / SL %.2f%%)",
		res.Qty, x.cfg.Symbol, price, res.TakeProfitPct, res.StopLossPct))
	return res, nil
}

// Sell closes the whole held quantity outside the exit monitor, for a
// signal SELL or a manual request. The live price is used for PnL, falling
// back to the entry price.
func (x *TradeExecutor) Sell(ctx context.Context, reason string) (ExitResult, error) {
	cctx, cancel := x.withTimeout(ctx)
	pos, ok, err := executor.FindPosition(cctx, x.broker, x.cfg.Symbol)
	cancel()
	if err != nil {
		return ExitResult{}, fmt.Errorf("fetch positions: %w", err)
	}
	if !ok {
		return ExitResult{}, fmt.Errorf("sell %s: %w", x.cfg.Symbol, types.ErrNoPosition)
	}
	if !x.state.beginExternalClose() {
		return ExitResult{}, fmt.Errorf("sell %s: close already in flight: %w", x.cfg.Symbol, types.ErrOrderRejected)
	}
	price, ok := x.price.Price()
	if !ok {
		price = pos.AvgEntryPrice
	}
	res, err := x.closePosition(ctx, pos.AvgEntryPrice, pos.Qty, price, reason)
	x.state.finishClose(err == nil)
	if err != nil {
		x.escalate(ctx, pos.AvgEntryPrice, pos.Qty, reason, err)
	}
	return res, err
}

// closePosition submits the market sell and records the outcome. The caller
// owns the Closing transition.
func (x *TradeExecutor) closePosition(ctx context.Context, entry, qty, price float64, reason string) (ExitResult, error) {
	order := types.Order{
		Symbol:        x.cfg.Symbol,
		Side:          types.Sell,
		Qty:           qty,
		Price:         price,
		TimeInForce:   "gtc",
		ClientOrderID: uuid.NewString(),
		Comment:       reason,
	}
	cctx, cancel := x.withTimeout(ctx)
	id, err := x.broker.Submit(cctx, order)
	cancel()
	if err != nil {
		metrics.OrderFailures.WithLabelValues(string(types.Sell)).Inc()
		return ExitResult{Reason: reason, Qty: qty, ExitPrice: price, Err: err}, err
	}

	pnl, pct := risk.PnL(entry, price, qty)
	fees, net := risk.NetOfFees(price, qty, pnl)
	res := ExitResult{Reason: reason, Closed: true, ExitPrice: price, Qty: qty, PnL: pnl, PnLPct: pct, OrderID: id}

	metrics.OrdersSubmitted.WithLabelValues(string(types.Sell), reason).Inc()
	metrics.ExitsTriggered.WithLabelValues(reason).Inc()
	metrics.RealizedPnL.Add(pnl)
	x.log.Info("exit_triggered",
		logger.String("reason", reason),
		logger.String("symbol", x.cfg.Symbol),
		logger.Float64("qty", qty),
		logger.Float64("entry", entry),
		logger.Float64("exit", price),
		logger.Float64("pnl", pnl),
		logger.Float64("pnl_pct", pct),
		logger.String("order_id", id),
	)

	if err := x.store.ClearTPSL(ctx, x.cfg.Symbol); err != nil {
		x.log.Warn("tpsl_cache_clear_failed", logger.Err(err))
	}
	now := time.Now()
	if err := x.store.RecordClosed(ctx, types.ClosedPosition{
		Symbol: x.cfg.Symbol, EntryPrice: entry, ExitPrice: price, Qty: qty,
		PnL: pnl, Reason: reason, ExitTime: now,
	}); err != nil {
		x.log.Warn("closed_position_write_failed", logger.Err(err))
	}
	x.emit(types.TradeEvent{
		Kind: types.EventClosed, Symbol: x.cfg.Symbol, Side: types.Sell, Qty: qty, Price: price,
		EntryPrice: entry, PnL: pnl, PnLPct: pct, Reason: reason, OrderID: id, Time: now,
	})
	x.send(ctx, reason, fmt.Sprintf(
		"Sold %.6f %s at %.2f (entry %.2f)\nPnL %.2f (%.2f%%)\nEst. fees %.4f, net %.2f",
		qty, x.cfg.Symbol, price, entry, pnl, pct, fees, net))
	return res, nil
}

// escalate reports a close the broker refused. The position is still open
// at the broker, so the guard keeps refusing new BUYs.
func (x *TradeExecutor) escalate(ctx context.Context, entry, qty float64, reason string, cause error) {
	payload := ""
	var oe *types.OrderError
	if errors.As(cause, &oe) {
		payload = oe.Payload
	}
	x.log.Error("close_failed",
		logger.String("reason", reason),
		logger.String("symbol", x.cfg.Symbol),
		logger.Float64("qty", qty),
		logger.String("payload", payload),
		logger.Err(cause),
	)
	x.emit(types.TradeEvent{
		Kind: types.EventCloseFailed, Symbol: x.cfg.Symbol, Side: types.Sell, Qty: qty,
		EntryPrice: entry, Reason: reason, Time: time.Now(),
	})
	x.send(ctx, "Close Failed", fmt.Sprintf(
		"%s close of %.6f %s was refused: %v\nThe position is still open at the broker.",
		reason, qty, x.cfg.Symbol, cause))
}

func (x *TradeExecutor) send(ctx context.Context, title, msg string) {
	nctx, cancel := x.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := x.notify.Notify(nctx, title, msg); err != nil {
		x.log.Warn("notify_failed", logger.String("title", title), logger.Err(err))
	}
}

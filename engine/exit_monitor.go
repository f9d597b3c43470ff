package engine

import (
	"context"
	"time"

	"github.com/evdnx/gotsma/executor"
	"github.com/evdnx/gotsma/logger"
	"github.com/evdnx/gotsma/marketdata"
	"github.com/evdnx/gotsma/risk"
)

// ReasonClosedElsewhere ends a monitor whose position was closed by a manual
// or signal sell.
const ReasonClosedElsewhere = "closed elsewhere"

// ExitPlan is what a monitor watches.
type ExitPlan struct {
	Symbol        string
	EntryPrice    float64
	Qty           float64
	TakeProfitPct float64
	StopLossPct   float64
}

// CrossunderFunc re-derives the crossover on fresh data and reports whether
// the fast line just crossed under the slow one.
type CrossunderFunc func(ctx context.Context) bool

// ExitMonitor polls one open position and closes it exactly once, on the
// first of MA crossunder, take profit or stop loss (checked in that order).
type ExitMonitor struct {
	plan       ExitPlan
	gen        uint64
	state      *positionState
	broker     executor.Broker
	price      marketdata.LivePrice
	exec       *TradeExecutor
	crossunder CrossunderFunc
	enabled    func() bool
	interval   time.Duration
	log        logger.Logger
}

// Run blocks until the position is closed, a close fails, the position is
// closed elsewhere or ctx ends.
func (m *ExitMonitor) Run(ctx context.Context) ExitResult {
	tpPrice, slPrice := risk.Levels(m.plan.EntryPrice, m.plan.TakeProfitPct, m.plan.StopLossPct)
	m.log.Info("exit_monitor_started",
		logger.String("symbol", m.plan.Symbol),
		logger.Float64("entry", m.plan.EntryPrice),
		logger.Float64("qty", m.plan.Qty),
		logger.Float64("take_profit", tpPrice),
		logger.Float64("stop_loss", slPrice),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ExitResult{Err: ctx.Err()}
		case <-ticker.C:
		}

		switch m.state.check(m.gen) {
		case PhaseWatching:
		case PhaseClosing:
			// a manual sell is in flight; it either closes or hands back
			continue
		default:
			return ExitResult{Reason: ReasonClosedElsewhere}
		}

		price, ok := m.price.Price()
		if !ok {
			m.log.Debug("exit_monitor_no_price", logger.String("symbol", m.plan.Symbol))
			continue
		}
		qty := m.heldQty(ctx)

		var reason string
		switch {
		case m.crossunder != nil && m.enabled() && m.crossunder(ctx):
			reason = ReasonCrossunder
		case price >= tpPrice:
			reason = ReasonTakeProfit
		case price <= slPrice:
			reason = ReasonStopLoss
		default:
			continue
		}

		if !m.state.tryBeginClose(m.gen) {
			continue
		}
		res, err := m.exec.closePosition(ctx, m.plan.EntryPrice, qty, price, reason)
		m.state.finishClose(err == nil)
		if err != nil {
			m.exec.escalate(ctx, m.plan.EntryPrice, qty, reason, err)
		}
		return res
	}
}

// heldQty re-reads the position from the broker and falls back to the
// planned quantity when that fails.
func (m *ExitMonitor) heldQty(ctx context.Context) float64 {
	cctx, cancel := m.exec.withTimeout(ctx)
	defer cancel()
	pos, ok, err := executor.FindPosition(cctx, m.broker, m.plan.Symbol)
	if err != nil {
		m.log.Warn("position_refetch_failed", logger.Err(err))
		return m.plan.Qty
	}
	if !ok {
		return m.plan.Qty
	}
	return pos.Qty
}

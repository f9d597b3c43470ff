package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotsma_orders_submitted_total",
			Help: "Total number of orders accepted by the broker (by side and reason).",
		},
		[]string{"side", "reason"},
	)

	OrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotsma_order_failures_total",
			Help: "Total number of orders the broker refused.",
		},
		[]string{"side"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotsma_positions_open",
			Help: "1 while an exit monitor is watching a position.",
		},
	)

	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotsma_signals_emitted_total",
			Help: "Signals emitted by the detector after de-duplication.",
		},
		[]string{"signal"},
	)

	ExitsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotsma_exits_triggered_total",
			Help: "Closed positions by exit reason.",
		},
		[]string{"reason"},
	)

	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotsma_realized_pnl",
			Help: "Cumulative realized PnL in quote currency since start.",
		},
	)

	LastPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotsma_last_price",
			Help: "Most recent price seen from the live feed or bars.",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrderFailures, PositionsOpen,
		SignalsEmitted, ExitsTriggered, RealizedPnL, LastPrice)
}

// Package metrics holds the Prometheus collectors the engine and report
// generator update. They are registered in init() and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"kiwoomapp/internal/types"
)

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwoom_orders_placed_total",
			Help: "Orders accepted by the broker",
		},
		[]string{"side", "venue"},
	)

	Cancels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwoom_cancels_total",
			Help: "Cancel requests by reason",
		},
		[]string{"reason"}, // stale_sell, bulk_nxt, liquidated
	)

	Rejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwoom_rejects_total",
			Help: "Broker rejections by decoded kind",
		},
		[]string{"kind"},
	)

	Phase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiwoom_session_phase",
			Help: "1 for the current session phase, 0 otherwise",
		},
		[]string{"phase"},
	)

	Liquidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiwoom_liquidations_total",
			Help: "Positions detected as fully sold",
		},
	)

	ReportRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwoom_report_rows_total",
			Help: "Backtest rows written by outcome",
		},
		[]string{"result"}, // success, fail
	)

	PollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kiwoom_poll_errors_total",
			Help: "Failed holdings or open-order polls",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, Cancels, Rejects, Phase, Liquidations, ReportRows, PollErrors)
}

// SetPhase flips the phase gauge so exactly one series reads 1
func SetPhase(p types.Phase) {
	for _, ph := range types.AllPhases {
		v := 0.0
		if ph == p {
			v = 1
		}
		Phase.WithLabelValues(string(ph)).Set(v)
	}
}

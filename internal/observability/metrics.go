// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Order flow
	OrdersPlaced      *prometheus.CounterVec // side, kind
	OrdersRejected    prometheus.Counter
	Confirmations     *prometheus.CounterVec // outcome: complete|partial_fill_accepted|failed|timeout
	ConfirmationPolls prometheus.Counter

	// Position lifecycle
	PositionsOpened    prometheus.Counter
	PositionsClosed    *prometheus.CounterVec // reason: SIGNAL|AUTO_SQUARE_OFF|EXTERNAL_MANUAL_EXIT
	ExternalExits      prometheus.Counter
	ValidationsRun     *prometheus.CounterVec // action
	ManualReviews      *prometheus.CounterVec // cause: stale|repeated_failure|timeout
	RealizedPnL        prometheus.Gauge

	// Scheduler / monitor
	LiveTimers    prometheus.Gauge
	SweepDuration prometheus.Histogram
	SweepBatch    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_placed_total",
			Help: "Orders submitted to the broker",
		}, []string{"side", "kind"}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Orders rejected by the broker at placement",
		}),
		Confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_confirmations_total",
			Help: "Confirmation protocol outcomes",
		}, []string{"outcome"}),
		ConfirmationPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_confirmation_polls_total",
			Help: "Individual broker order-list polls",
		}),
		PositionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_positions_opened_total",
			Help: "Positions created from confirmed entries",
		}),
		PositionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_positions_closed_total",
			Help: "Positions fully closed, by exit reason",
		}, []string{"reason"}),
		ExternalExits: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_external_exits_total",
			Help: "Positions reconciled as closed outside the engine",
		}),
		ValidationsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_validations_total",
			Help: "Pre-exit broker validations, by resulting action",
		}, []string{"action"}),
		ManualReviews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_manual_reviews_total",
			Help: "Confirmations escalated to manual review, by cause",
		}, []string{"cause"}),
		RealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_realized_pnl",
			Help: "Realized PnL applied by the most recent exit",
		}),
		LiveTimers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_auto_exit_timers",
			Help: "Auto-exit timers currently armed",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_monitor_sweep_seconds",
			Help:    "Duration of order monitoring sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		SweepBatch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_monitor_sweep_batch",
			Help: "Records examined by the most recent sweep",
		}),
	}
}

// NewDefaultMetrics creates metrics on the default registry.
func NewDefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// Handler returns the Prometheus exposition handler for the ops server.
func Handler() http.Handler {
	return promhttp.Handler()
}

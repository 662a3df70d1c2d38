// Package metrics provides Prometheus metrics for the charge engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. Every method is safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	QuotesTotal           prometheus.Counter
	DispensesTotal        *prometheus.CounterVec
	LinesUnpriced         *prometheus.CounterVec
	PartialAllocations    prometheus.Counter
	StockMovements        *prometheus.CounterVec
	QuoteDuration         prometheus.Histogram
	DispenseDuration      prometheus.Histogram
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
	WorkerQueueDepth      prometheus.Gauge
}

// New creates all metrics and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		QuotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxcharge_quotes_total",
			Help: "Total prescription quotes computed",
		}),
		DispensesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxcharge_dispenses_total",
			Help: "Total dispense operations by outcome",
		}, []string{"outcome"}),
		LinesUnpriced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxcharge_lines_unpriced_total",
			Help: "Medication lines that could not be priced, by reason",
		}, []string{"reason"}),
		PartialAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rxcharge_partial_allocations_total",
			Help: "Medication lines priced for less than requested",
		}),
		StockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rxcharge_stock_movements_total",
			Help: "Stock movements recorded, by type",
		}, []string{"type"}),
		QuoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rxcharge_quote_duration_seconds",
			Help:    "Quote computation duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		}),
		DispenseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rxcharge_dispense_duration_seconds",
			Help:    "Dispense duration including ledger writes",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		WorkerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispense_worker_queue_depth",
			Help: "Dispense tasks waiting in the worker queue",
		}),
	}

	reg.MustRegister(
		m.QuotesTotal,
		m.DispensesTotal,
		m.LinesUnpriced,
		m.PartialAllocations,
		m.StockMovements,
		m.QuoteDuration,
		m.DispenseDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
		m.WorkerQueueDepth,
	)

	return m
}

// ObserveQuote records one quote and its duration.
func (m *Metrics) ObserveQuote(d time.Duration) {
	if m == nil {
		return
	}
	m.QuotesTotal.Inc()
	m.QuoteDuration.Observe(d.Seconds())
}

// ObserveDispense records one dispense outcome ("ok" or "error").
func (m *Metrics) ObserveDispense(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispensesTotal.WithLabelValues(outcome).Inc()
	m.DispenseDuration.Observe(d.Seconds())
}

// ObserveLine records the pricing outcome of a line.
func (m *Metrics) ObserveLine(reason string, partial bool) {
	if m == nil {
		return
	}
	if reason != "" {
		m.LinesUnpriced.WithLabelValues(reason).Inc()
	}
	if partial {
		m.PartialAllocations.Inc()
	}
}

// ObserveMovement records one stock movement.
func (m *Metrics) ObserveMovement(movementType string) {
	if m == nil {
		return
	}
	m.StockMovements.WithLabelValues(movementType).Inc()
}

// SetBreakerState records a circuit breaker state.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// SetQueueDepth records the worker queue depth.
func (m *Metrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.WorkerQueueDepth.Set(float64(depth))
}

// Handler returns the Prometheus HTTP handler for g. A nil g serves the
// default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

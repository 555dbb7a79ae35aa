package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Evaluator metrics
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_evaluator_cycles_total",
			Help: "Total number of completed evaluator cycles",
		},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_evaluator_cycle_duration_seconds",
			Help:    "Evaluator cycle wall time",
			Buckets: prometheus.DefBuckets,
		},
	)

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_evaluations_total",
			Help: "Total condition evaluations",
		},
		[]string{"symbol", "timeframe"},
	)

	triggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_triggers_total",
			Help: "Total trigger events emitted",
		},
		[]string{"symbol", "timeframe"},
	)

	skippedGroupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_skipped_groups_total",
			Help: "Symbol groups skipped because market data could not be fetched",
		},
	)

	// Event bus metrics
	droppedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_dropped_events_total",
			Help: "Events dropped from full subscriber mailboxes",
		},
		[]string{"subscriber"},
	)

	// Execution metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Total orders placed",
		},
		[]string{"symbol", "side"},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_current_price",
			Help: "Last observed price per symbol",
		},
		[]string{"symbol"},
	)

	activeBots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_active_bots",
			Help: "Bots with a running executor",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Total errors by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(evaluationsTotal)
	prometheus.MustRegister(triggersTotal)
	prometheus.MustRegister(skippedGroupsTotal)
	prometheus.MustRegister(droppedEventsTotal)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(activeBots)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordCycle records one completed evaluator cycle.
func RecordCycle(seconds float64) {
	cyclesTotal.Inc()
	cycleDuration.Observe(seconds)
}

// RecordEvaluation counts one condition evaluation.
func RecordEvaluation(symbol, timeframe string) {
	evaluationsTotal.WithLabelValues(symbol, timeframe).Inc()
}

// RecordTrigger counts one emitted trigger event.
func RecordTrigger(symbol, timeframe string) {
	triggersTotal.WithLabelValues(symbol, timeframe).Inc()
}

// RecordSkippedGroup counts a symbol group skipped for the cycle.
func RecordSkippedGroup() {
	skippedGroupsTotal.Inc()
}

// RecordDroppedEvent counts a mailbox drop for a subscriber.
func RecordDroppedEvent(subscriber string) {
	droppedEventsTotal.WithLabelValues(subscriber).Inc()
}

// RecordOrder counts a placed order.
func RecordOrder(symbol, side string) {
	ordersTotal.WithLabelValues(symbol, side).Inc()
}

// UpdatePrice updates the last observed price gauge.
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// SetActiveBots updates the running-executor gauge.
func SetActiveBots(n int) {
	activeBots.Set(float64(n))
}

// RecordError counts an error by kind.
func RecordError(kind string) {
	errorsTotal.WithLabelValues(kind).Inc()
}

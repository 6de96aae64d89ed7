// Package metrics holds the Prometheus collectors of the router worker.
//
// Every method is safe on a nil *Metrics, which disables collection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "dago"
	subsystem = "router"
)

// Metrics holds the router collectors
type Metrics struct {
	routedTotal      *prometheus.CounterVec
	routeDuration    prometheus.Histogram
	activeRules      prometheus.Gauge
	publishedTotal   *prometheus.CounterVec
	deadLettersTotal *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg returns
// nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		routedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routed_total",
			Help:      "Events routed, by outcome and chosen rule",
		}, []string{"outcome", "rule_id"}),

		routeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "route_duration_seconds",
			Help:      "Time spent routing one event",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),

		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_rules",
			Help:      "Number of rules in the current snapshot",
		}),

		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "published_total",
			Help:      "Envelopes published, by kind",
		}, []string{"kind"}),

		deadLettersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "deadletters_total",
			Help:      "Dead-letter events produced, by reason",
		}, []string{"reason"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Processing errors, by type",
		}, []string{"error_type"}),
	}

	reg.MustRegister(
		m.routedTotal,
		m.routeDuration,
		m.activeRules,
		m.publishedTotal,
		m.deadLettersTotal,
		m.errorsTotal,
	)
	return m
}

// Publication kinds
const (
	KindNext       = "next"
	KindRetry      = "retry"
	KindEgress     = "egress"
	KindDeadLetter = "deadletter"
)

// ObserveRoute records one routing decision
func (m *Metrics) ObserveRoute(matched bool, ruleID string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "unmatched"
	if matched {
		outcome = "matched"
	}
	m.routedTotal.WithLabelValues(outcome, ruleID).Inc()
	m.routeDuration.Observe(elapsed.Seconds())
}

// SetActiveRules records the size of the rule snapshot
func (m *Metrics) SetActiveRules(n int) {
	if m == nil {
		return
	}
	m.activeRules.Set(float64(n))
}

// Published counts one publication of kind
func (m *Metrics) Published(kind string) {
	if m == nil {
		return
	}
	m.publishedTotal.WithLabelValues(kind).Inc()
}

// DeadLettered counts one dead-letter event
func (m *Metrics) DeadLettered(reason string) {
	if m == nil {
		return
	}
	m.deadLettersTotal.WithLabelValues(reason).Inc()
}

// Error counts one processing error
func (m *Metrics) Error(errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

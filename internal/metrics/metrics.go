package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the monitor's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	outcomes      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	ledgerSize    prometheus.Gauge
	lastCycle     prometheus.Gauge
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navwatch",
			Name:      "cycles_total",
			Help:      "Monitoring cycles by result (ok, failed, skipped).",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "navwatch",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a monitoring cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navwatch",
			Name:      "instrument_outcomes_total",
			Help:      "Per-instrument cycle outcomes.",
		}, []string{"outcome", "status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navwatch",
			Name:      "notifications_total",
			Help:      "Notification attempts by kind and result.",
		}, []string{"kind", "result"}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "navwatch",
			Name:      "ledger_alerted_instruments",
			Help:      "Instruments alerted on the current day.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "navwatch",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last finished cycle.",
		}),
	}
	reg.MustRegister(m.cycles, m.cycleDuration, m.outcomes, m.notifications, m.ledgerSize, m.lastCycle)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(result string, elapsed time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.cycleDuration.Observe(elapsed.Seconds())
		m.lastCycle.Set(float64(finished.Unix()))
	}
}

// ObserveOutcome counts one instrument result.
func (m *Metrics) ObserveOutcome(outcome, status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome, status).Inc()
}

// ObserveNotification counts one delivery attempt.
func (m *Metrics) ObserveNotification(kind string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// SetLedgerSize publishes the size of today's alerted set.
func (m *Metrics) SetLedgerSize(n int) {
	if m == nil {
		return
	}
	m.ledgerSize.Set(float64(n))
}

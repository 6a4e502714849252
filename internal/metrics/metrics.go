// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "equitydash"

// Metrics collectors. A nil *Metrics records nothing.
type Metrics struct {
	tradesIngested   *prometheus.CounterVec
	webhookRequests  *prometheus.CounterVec
	divergence       *prometheus.CounterVec
	reconstruction   *prometheus.HistogramVec
	storeUnavailable prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tradesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_ingested_total",
			Help:      "Trades received by ingest, by result.",
		}, []string{"result"}),
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
		divergence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_divergence_total",
			Help:      "Trade-derived totals diverging from snapshot readings beyond the threshold.",
		}, []string{"source"}),
		reconstruction: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconstruction_seconds",
			Help:      "Time spent building an equity curve.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope", "path"}),
		storeUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_unavailable_total",
			Help:      "Requests answered with service unavailable because the store was unreachable.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.tradesIngested, m.webhookRequests, m.divergence, m.reconstruction, m.storeUnavailable)
	}
	return m
}

// TradesIngested counts inserted and duplicate trades.
func (m *Metrics) TradesIngested(inserted, duplicates int) {
	if m == nil {
		return
	}
	m.tradesIngested.WithLabelValues("inserted").Add(float64(inserted))
	m.tradesIngested.WithLabelValues("duplicate").Add(float64(duplicates))
}

// WebhookRequest counts one webhook delivery.
func (m *Metrics) WebhookRequest(outcome string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(outcome).Inc()
}

// Divergence counts one flagged divergence.
func (m *Metrics) Divergence(source string) {
	if m == nil {
		return
	}
	m.divergence.WithLabelValues(source).Inc()
}

// ObserveReconstruction records the duration since start.
func (m *Metrics) ObserveReconstruction(scope, path string, start time.Time) {
	if m == nil {
		return
	}
	m.reconstruction.WithLabelValues(scope, path).Observe(time.Since(start).Seconds())
}

// StoreUnavailable counts one 503 answer.
func (m *Metrics) StoreUnavailable() {
	if m == nil {
		return
	}
	m.storeUnavailable.Inc()
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TradesIngested(3, 2)
	m.TradesIngested(1, 0)
	m.Divergence("ingest")
	m.WebhookRequest("ok")
	m.StoreUnavailable()
	m.ObserveReconstruction("account", "trade", time.Now())

	assert.Equal(t, 4.0, testutil.ToFloat64(m.tradesIngested.WithLabelValues("inserted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tradesIngested.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.divergence.WithLabelValues("ingest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeUnavailable))
	assert.Equal(t, 1, testutil.CollectAndCount(m.reconstruction))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TradesIngested(1, 1)
		m.WebhookRequest("ok")
		m.Divergence("profit")
		m.ObserveReconstruction("portfolio", "snapshot", time.Now())
		m.StoreUnavailable()
	})
}

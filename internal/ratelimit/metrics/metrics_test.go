package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementChecks("anonymous", true)
	m.IncrementChecks("anonymous", false)
	m.IncrementChecks("anonymous", false)
	m.IncrementRecords("authenticated")
	m.AddCleanupDeleted(3)
	m.AddCleanupDeleted(0)
	m.IncrementStoreErrors("check")
	m.IncrementFallback("check")
	m.ObserveStoreLatency("check", time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("anonymous", OutcomeAllowed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("anonymous", OutcomeThrottled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("authenticated")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CleanupDeletedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("check")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackTotal.WithLabelValues("check")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StoreLatency))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementChecks("anonymous", true)
		m.IncrementRecords("anonymous")
		m.AddCleanupDeleted(1)
		m.IncrementStoreErrors("record")
		m.IncrementFallback("record")
		m.ObserveStoreLatency("record", time.Now())
	})
}

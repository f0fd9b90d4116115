package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newIndexMetrics(reg)

	m.RecordPersist(time.Millisecond, 128, nil)
	m.RecordPersist(time.Millisecond, 256, errors.New("disk full"))
	m.SetRecords(3, 42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistTotal.WithLabelValues("error")))
	// Failed writes do not replace the last good size.
	assert.Equal(t, 128.0, testutil.ToFloat64(m.snapshotBytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.records))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.recordBytes))
}

func TestStorageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newStorageMetrics(reg)

	m.RecordOperation("put", 10*time.Millisecond, nil)
	m.RecordOperation("put", 10*time.Millisecond, errors.New("boom"))
	m.RecordBytes("in", 100)
	m.RecordBytes("in", 0)
	m.RecordReconcile(2, 1, time.Second, nil)
	m.SetUsage(500, 1000)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("put", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("put", "error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("in")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcileChanges.WithLabelValues("adopted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileChanges.WithLabelValues("removed")))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.usedBytes))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.capacityBytes))
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)

	m.InFlight(1)
	m.RecordRequest("GET", "GET /files", 200, time.Millisecond)
	m.InFlight(-1)
	m.RecordRateLimited()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "GET /files", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))

	count, err := testutil.GatherAndCount(reg, "cloudstore_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNoopWhenDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("global registry initialized by another test")
	}
	assert.IsType(t, noopIndexMetrics{}, NewIndexMetrics())
	assert.IsType(t, noopStorageMetrics{}, NewStorageMetrics())
	assert.IsType(t, noopHTTPMetrics{}, NewHTTPMetrics())
	assert.Nil(t, Handler())
}

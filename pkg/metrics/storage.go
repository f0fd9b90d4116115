package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StorageMetrics observes the storage coordinator.
type StorageMetrics interface {
	// RecordOperation records one coordinator operation (put, patch, delete, get, list).
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordBytes counts payload bytes moved in the given direction ("in" or "out").
	RecordBytes(direction string, n int64)

	// RecordReconcile records one reconciliation pass.
	RecordReconcile(adopted, removed int, duration time.Duration, err error)

	// SetUsage reports the bytes used by indexed files and the configured capacity.
	SetUsage(used, capacity int64)
}

// NewStorageMetrics creates a Prometheus-backed StorageMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewStorageMetrics() StorageMetrics {
	if !IsEnabled() {
		return NewNoopStorageMetrics()
	}
	return newStorageMetrics(GetRegistry())
}

// NewNoopStorageMetrics returns a StorageMetrics that discards everything.
func NewNoopStorageMetrics() StorageMetrics {
	return noopStorageMetrics{}
}

type storageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	reconcileTotal    *prometheus.CounterVec
	reconcileChanges  *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	usedBytes         prometheus.Gauge
	capacityBytes     prometheus.Gauge
}

func newStorageMetrics(reg prometheus.Registerer) *storageMetrics {
	return &storageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Total number of storage operations by type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Duration of storage operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9), // 500µs .. ~33s
			},
			[]string{"operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "bytes_total",
				Help:      "Total payload bytes written (in) and served (out)",
			},
			[]string{"direction"},
		),
		reconcileTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "reconcile_runs_total",
				Help:      "Total number of reconciliation passes by status",
			},
			[]string{"status"},
		),
		reconcileChanges: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "reconcile_records_total",
				Help:      "Records adopted from disk or removed as stale during reconciliation",
			},
			[]string{"action"},
		),
		reconcileDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of reconciliation passes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		usedBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "used_bytes",
				Help:      "Bytes used by indexed files",
			},
		),
		capacityBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "capacity_bytes",
				Help:      "Configured storage capacity (0 = unlimited)",
			},
		),
	}
}

func (m *storageMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *storageMetrics) RecordBytes(direction string, n int64) {
	if n > 0 {
		m.bytesTotal.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *storageMetrics) RecordReconcile(adopted, removed int, duration time.Duration, err error) {
	m.reconcileTotal.WithLabelValues(statusLabel(err)).Inc()
	m.reconcileChanges.WithLabelValues("adopted").Add(float64(adopted))
	m.reconcileChanges.WithLabelValues("removed").Add(float64(removed))
	m.reconcileDuration.Observe(duration.Seconds())
}

func (m *storageMetrics) SetUsage(used, capacity int64) {
	m.usedBytes.Set(float64(used))
	m.capacityBytes.Set(float64(capacity))
}

// noopStorageMetrics is a no-op implementation of StorageMetrics with zero overhead.
type noopStorageMetrics struct{}

func (noopStorageMetrics) RecordOperation(operation string, duration time.Duration, err error) {}
func (noopStorageMetrics) RecordBytes(direction string, n int64)                               {}
func (noopStorageMetrics) RecordReconcile(adopted, removed int, duration time.Duration, err error) {
}
func (noopStorageMetrics) SetUsage(used, capacity int64) {}

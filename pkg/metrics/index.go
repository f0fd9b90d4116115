package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IndexMetrics observes the metadata index.
//
// Implementations must be safe for concurrent use.
type IndexMetrics interface {
	// RecordPersist records one snapshot write: its duration, encoded size and outcome.
	RecordPersist(duration time.Duration, bytes int, err error)

	// SetRecords reports the number of indexed records and their total size.
	SetRecords(count int, totalBytes int64)
}

// NewIndexMetrics creates a Prometheus-backed IndexMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewIndexMetrics() IndexMetrics {
	if !IsEnabled() {
		return NewNoopIndexMetrics()
	}
	return newIndexMetrics(GetRegistry())
}

// NewNoopIndexMetrics returns an IndexMetrics that discards everything.
func NewNoopIndexMetrics() IndexMetrics {
	return noopIndexMetrics{}
}

type indexMetrics struct {
	persistTotal    *prometheus.CounterVec
	persistDuration prometheus.Histogram
	snapshotBytes   prometheus.Gauge
	records         prometheus.Gauge
	recordBytes     prometheus.Gauge
}

func newIndexMetrics(reg prometheus.Registerer) *indexMetrics {
	return &indexMetrics{
		persistTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "persist_total",
				Help:      "Total number of snapshot writes by status",
			},
			[]string{"status"},
		),
		persistDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "persist_duration_seconds",
				Help:      "Duration of snapshot writes in seconds",
				Buckets: []float64{
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
		),
		snapshotBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "snapshot_bytes",
				Help:      "Size of the last successfully written snapshot",
			},
		),
		records: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "records",
				Help:      "Number of indexed files",
			},
		),
		recordBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "record_bytes",
				Help:      "Sum of the sizes of all indexed files",
			},
		),
	}
}

func (m *indexMetrics) RecordPersist(duration time.Duration, bytes int, err error) {
	m.persistTotal.WithLabelValues(statusLabel(err)).Inc()
	m.persistDuration.Observe(duration.Seconds())
	if err == nil {
		m.snapshotBytes.Set(float64(bytes))
	}
}

func (m *indexMetrics) SetRecords(count int, totalBytes int64) {
	m.records.Set(float64(count))
	m.recordBytes.Set(float64(totalBytes))
}

// noopIndexMetrics is a no-op implementation of IndexMetrics with zero overhead.
type noopIndexMetrics struct{}

func (noopIndexMetrics) RecordPersist(duration time.Duration, bytes int, err error) {}
func (noopIndexMetrics) SetRecords(count int, totalBytes int64)                     {}

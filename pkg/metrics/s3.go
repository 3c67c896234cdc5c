package metrics

import (
	"sync"
	"time"

	"github.com/marmos91/ecquota/pkg/store/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// s3Metrics is the Prometheus implementation of s3.S3Metrics interface.
//
// This implementation collects metrics about settings store requests:
//   - Request counts by operation and status
//   - Request latency
//   - Object bytes read and written
//   - Time spent waiting on the rate limiter
type s3Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	throttleDuration  prometheus.Histogram
}

var (
	globalS3Metrics s3.S3Metrics
	globalS3Once    sync.Once
)

// NewS3Metrics creates a new Prometheus-backed S3Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the S3 settings store to use the built-in no-op implementation.
// Collectors are registered once; later calls share them.
func NewS3Metrics() s3.S3Metrics {
	if !IsEnabled() {
		return nil // S3 settings store will use noopMetrics
	}
	globalS3Once.Do(func() {
		globalS3Metrics = NewS3MetricsWith(GetRegistry())
	})
	return globalS3Metrics
}

// NewS3MetricsWith registers the S3 collectors on reg.
func NewS3MetricsWith(reg prometheus.Registerer) s3.S3Metrics {
	return &s3Metrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecquota_s3_operations_total",
				Help: "Total number of S3 requests by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ecquota_s3_operation_duration_seconds",
				Help: "Duration of S3 requests in seconds",
				Buckets: []float64{
					0.005, // 5ms
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecquota_s3_bytes_transferred_total",
				Help: "Total settings object bytes transferred",
			},
			[]string{"direction"}, // read or write
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecquota_s3_errors_total",
				Help: "Total number of S3 request errors by operation type",
			},
			[]string{"operation"},
		),
		throttleDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "ecquota_s3_throttle_wait_seconds",
				Help: "Time spent waiting for the S3 request rate limiter",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
				},
			},
		),
	}
}

// ObserveOperation implements s3.S3Metrics.ObserveOperation
func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(operation).Inc()
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes implements s3.S3Metrics.RecordBytes
func (m *s3Metrics) RecordBytes(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

// ObserveThrottle implements s3.S3Metrics.ObserveThrottle
func (m *s3Metrics) ObserveThrottle(duration time.Duration) {
	m.throttleDuration.Observe(duration.Seconds())
}

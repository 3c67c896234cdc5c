// Package prometheus provides Prometheus-backed metrics implementations.
package prometheus

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/ecquota/pkg/metrics"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// quotaMetrics is the Prometheus implementation of metrics.QuotaMetrics.
type quotaMetrics struct {
	transactionsTotal *prometheus.CounterVec
	deltaBytes        *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	storeOpsTotal     *prometheus.CounterVec
	storeOpsDuration  *prometheus.HistogramVec
	namespaceUsed     *prometheus.GaugeVec
	storageSpaceUsed  *prometheus.GaugeVec
}

var (
	globalQuotaMetrics metrics.QuotaMetrics
	globalQuotaOnce    sync.Once
)

// NewQuotaMetrics returns the QuotaMetrics registered on the global
// registry. Collectors are registered once; later calls share them.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewQuotaMetrics() metrics.QuotaMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopQuotaMetrics()
	}
	globalQuotaOnce.Do(func() {
		globalQuotaMetrics = NewQuotaMetricsWith(metrics.GetRegistry())
	})
	return globalQuotaMetrics
}

// NewQuotaMetricsWith registers the quota collectors on reg.
func NewQuotaMetricsWith(reg prometheus.Registerer) metrics.QuotaMetrics {
	return &quotaMetrics{
		transactionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecquota_transactions_total",
				Help: "Total number of quota transactions by outcome",
			},
			[]string{"outcome"},
		),
		deltaBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecquota_committed_storage_bytes_total",
				Help: "Storage space bytes committed to quota directories, by direction",
			},
			[]string{"direction"},
		),
		rejectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecquota_rejections_total",
				Help: "Total number of quota violations by resource and storage type",
			},
			[]string{"resource", "storage_type"},
		),
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecquota_operations_total",
				Help: "Total number of namespace operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ecquota_operation_duration_seconds",
				Help: "Duration of namespace operations in seconds",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
					1.0,     // 1s
				},
			},
			[]string{"operation"},
		),
		storeOpsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecquota_store_operations_total",
				Help: "Total number of settings store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		storeOpsDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ecquota_store_operation_duration_seconds",
				Help: "Duration of settings store operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"operation"},
		),
		namespaceUsed: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ecquota_directory_namespace_used",
				Help: "Files and directories counted against a quota directory",
			},
			[]string{"path"},
		),
		storageSpaceUsed: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ecquota_directory_storage_space_used_bytes",
				Help: "Physical bytes counted against a quota directory",
			},
			[]string{"path"},
		),
	}
}

// Committed counts the transaction and its byte delta. The directory gauges
// are left to SetDirectoryUsage, since path names the changed inode and not
// the quota directories the delta was charged to.
func (m *quotaMetrics) Committed(path string, delta quota.Counts, features int) {
	m.transactionsTotal.WithLabelValues("committed").Inc()
	switch {
	case delta.StorageSpace > 0:
		m.deltaBytes.WithLabelValues("charge").Add(float64(delta.StorageSpace))
	case delta.StorageSpace < 0:
		m.deltaBytes.WithLabelValues("release").Add(float64(-delta.StorageSpace))
	}
}

func (m *quotaMetrics) Rejected(err *quota.ExceededError) {
	m.transactionsTotal.WithLabelValues("rejected").Inc()

	resource, storageType := resourceLabels(err.Resource)
	m.rejectionsTotal.WithLabelValues(resource, storageType).Inc()
}

func resourceLabels(r quota.Resource) (resource, storageType string) {
	if t, ok := r.StorageType(); ok {
		return "storage_type", t.String()
	}
	return strings.ReplaceAll(r.String(), " ", "_"), ""
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "error"
	}
}

func (m *quotaMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *quotaMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsTotal.WithLabelValues(operation, status(err)).Inc()
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *quotaMetrics) SetDirectoryUsage(path string, namespace, storageSpace int64) {
	m.namespaceUsed.WithLabelValues(path).Set(float64(namespace))
	m.storageSpaceUsed.WithLabelValues(path).Set(float64(storageSpace))
}

func (m *quotaMetrics) ForgetDirectory(path string) {
	m.namespaceUsed.DeleteLabelValues(path)
	m.storageSpaceUsed.DeleteLabelValues(path)
}

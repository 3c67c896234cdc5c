package metrics

import (
	"time"

	"github.com/marmos91/ecquota/pkg/quota"
)

// QuotaMetrics provides observability for quota accounting.
//
// It is a quota.Observer, so it can be handed directly to the namespace and
// sees every committed and rejected transaction. The remaining methods are
// called by the server around namespace operations and settings store
// writes.
//
// The per-directory usage gauges are snapshots, not running totals. They are
// published when a quota is set or cleared, at bootstrap and on every audit
// run. Committed only moves the transaction counters, so between those
// points a gauge reports the usage of the last snapshot.
//
// This interface is optional - if not provided, a no-op implementation is
// used.
type QuotaMetrics interface {
	quota.Observer

	// RecordOperation records a completed namespace operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "AddBlock", "SetQuota")
	//   - duration: Time taken to complete the operation
	//   - err: Error if the operation failed, nil if successful
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordStoreOperation records a settings store call.
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// SetDirectoryUsage publishes the cached usage of a quota directory.
	// The value holds until the next call for the same path.
	SetDirectoryUsage(path string, namespace, storageSpace int64)

	// ForgetDirectory drops the usage series of a directory that no longer
	// carries a quota.
	ForgetDirectory(path string)
}

// noopQuotaMetrics is a no-op implementation of QuotaMetrics.
type noopQuotaMetrics struct{}

// NewNoopQuotaMetrics returns a QuotaMetrics that records nothing.
func NewNoopQuotaMetrics() QuotaMetrics {
	return noopQuotaMetrics{}
}

func (noopQuotaMetrics) Committed(path string, delta quota.Counts, features int) {}
func (noopQuotaMetrics) Rejected(err *quota.ExceededError)                      {}
func (noopQuotaMetrics) RecordOperation(operation string, duration time.Duration, err error) {
}
func (noopQuotaMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
}
func (noopQuotaMetrics) SetDirectoryUsage(path string, namespace, storageSpace int64) {}
func (noopQuotaMetrics) ForgetDirectory(path string)                                  {}

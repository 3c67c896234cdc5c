package s3

import "time"

// S3Metrics provides observability for the requests the settings store
// sends to S3.
//
// This is optional - if not provided, metrics collection is skipped.
type S3Metrics interface {
	// ObserveOperation records an S3 request with its duration and outcome.
	// Time spent waiting on the rate limiter is not included.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records object bytes read or written
	RecordBytes(operation string, bytes int64)

	// ObserveThrottle records time spent waiting for a rate limiter token
	ObserveThrottle(duration time.Duration)
}

// noopMetrics is a default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (noopMetrics) RecordBytes(operation string, bytes int64)                            {}
func (noopMetrics) ObserveThrottle(duration time.Duration)                               {}

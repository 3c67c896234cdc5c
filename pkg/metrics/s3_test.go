package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestS3MetricsObserveOperation(t *testing.T) {
	m := NewS3MetricsWith(prometheus.NewRegistry()).(*s3Metrics)

	m.ObserveOperation("PutObject", 10*time.Millisecond, nil)
	m.ObserveOperation("PutObject", 20*time.Millisecond, errors.New("boom"))
	m.RecordBytes("write", 128)
	m.ObserveThrottle(time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("PutObject", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("PutObject", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("PutObject")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("write")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.throttleDuration))
}

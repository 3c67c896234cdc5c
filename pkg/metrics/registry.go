// Package metrics holds the Prometheus plumbing of the quota server: the
// process-wide registry, the QuotaMetrics and S3Metrics sinks, and the HTTP
// server that serves /metrics and /healthz.
//
// Metrics are off unless the config enables them. When off, GetRegistry
// returns nil and every constructor hands back a no-op sink, so the quota
// paths never check whether collection is on.
//
// Startup order matters because the S3 store takes its sink at construction:
//
//	// server.Build initializes the registry before opening the store
//	metrics.InitRegistry()
//	settings, err := config.CreateSettingsStore(ctx, &cfg.Store) // calls NewS3Metrics
//
//	// InitializeMetrics builds the QuotaMetrics sink and the HTTP server,
//	// with the settings store's health check behind /healthz
//	result, err := config.InitializeMetrics(cfg, settings.Healthcheck)
//
// Tests register against a private registry instead:
//
//	reg := prometheus.NewRegistry()
//	quotaMetrics := promMetrics.NewQuotaMetricsWith(reg)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry for all server metrics
	// Protected by registryOnce for write-once, read-many pattern
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to call
// multiple times - subsequent calls are ignored.
//
// If not called, GetRegistry() will return nil and all metrics constructors
// will return no-op implementations.
//
// Thread safety:
// sync.Once provides the necessary memory barriers to ensure the registry
// write is visible to all subsequent reads.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
//
// Thread safety:
// Safe to call concurrently. The sync.Once in InitRegistry() provides
// a happens-before relationship ensuring the registry value is visible.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
//
// Metrics are enabled if InitRegistry() has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

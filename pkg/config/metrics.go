package config

import (
	"github.com/marmos91/ecquota/pkg/metrics"
	promMetrics "github.com/marmos91/ecquota/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// QuotaMetrics records quota transactions (never nil, uses noop if disabled)
	QuotaMetrics metrics.QuotaMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, whose /healthz endpoint runs health
//   - Creates Prometheus-backed metrics instances
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations
func InitializeMetrics(cfg *Config, health metrics.HealthFunc) (*MetricsResult, error) {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			QuotaMetrics: metrics.NewNoopQuotaMetrics(),
		}, nil
	}

	metrics.InitRegistry()

	server, err := metrics.NewServer(metrics.ServerConfig{
		Port:   cfg.Server.Metrics.Port,
		Health: health,
	})
	if err != nil {
		return nil, err
	}

	return &MetricsResult{
		Server:       server,
		QuotaMetrics: promMetrics.NewQuotaMetrics(),
	}, nil
}

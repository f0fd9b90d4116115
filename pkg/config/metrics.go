package config

import (
	"github.com/marmos91/cloudstore/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Collectors for each component (never nil, no-op if disabled)
	Index   metrics.IndexMetrics
	Storage metrics.StorageMetrics
	HTTP    metrics.HTTPMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed collectors for the index, storage and API
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Index:   metrics.NewNoopIndexMetrics(),
			Storage: metrics.NewNoopStorageMetrics(),
			HTTP:    metrics.NewNoopHTTPMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:  metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Index:   metrics.NewIndexMetrics(),
		Storage: metrics.NewStorageMetrics(),
		HTTP:    metrics.NewHTTPMetrics(),
	}
}

package config

import (
	"github.com/marmos91/cloudstore/pkg/adapter"
	"github.com/marmos91/cloudstore/pkg/api"
	"github.com/marmos91/cloudstore/pkg/auth"
)

// APIHandlerConfig converts the api, rate_limit and storage sections into the
// handler configuration.
func (c *Config) APIHandlerConfig() api.Config {
	return api.Config{
		MaxListLimit:       c.API.MaxListLimit,
		MaxUploadSize:      int64(c.Storage.MaxFileSize),
		CORSAllowedOrigins: c.API.CORSAllowedOrigins,
		RateLimit: api.RateLimitConfig{
			Enabled:           c.RateLimit.Enabled,
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			Burst:             c.RateLimit.Burst,
		},
	}
}

// APIServerConfig converts the api and server sections into the listener
// configuration.
func (c *Config) APIServerConfig() api.ServerConfig {
	return api.ServerConfig{
		Address:         c.API.Address,
		ReadTimeout:     c.API.ReadTimeout,
		WriteTimeout:    c.API.WriteTimeout,
		IdleTimeout:     c.API.IdleTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}

// CreateAdapters creates the network listeners enabled by the configuration:
// the REST API always, the metrics endpoint when metrics are enabled.
//
// Parameters:
//   - cfg: The complete cloudstore configuration
//   - store: The storage served by the API
//   - authn: Client authenticator
//   - m: Metrics components from InitializeMetrics
func CreateAdapters(cfg *Config, store api.FileStore, authn *auth.Authenticator, m *MetricsResult) []adapter.Adapter {
	handler := api.NewHandler(store, authn, cfg.APIHandlerConfig(), api.WithMetrics(m.HTTP))

	adapters := []adapter.Adapter{
		api.NewServer(cfg.APIServerConfig(), handler),
	}
	if m.Server != nil {
		adapters = append(adapters, m.Server)
	}

	return adapters
}

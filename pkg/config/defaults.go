package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/cloudstore/pkg/api"
	"github.com/marmos91/cloudstore/pkg/storage"
)

// Default values not owned by another package.
const (
	DefaultDataDir      = "data"
	DefaultCapacity     = 20 * humanize.GiByte
	DefaultAPIAddress   = ":8000"
	DefaultMetricsPort  = 9090
	DefaultTokenTTL     = time.Hour
	DefaultReconcile    = time.Hour
	defaultRequestsRate = 50
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans keep their zero value (auth, rate limiting and metrics are opt-in)
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAPIDefaults(&cfg.API)
	applyAuthDefaults(&cfg.Auth)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyMetricsDefaults(&cfg.Metrics)
	applyStorageDefaults(&cfg.Storage)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Address == "" {
		cfg.Address = DefaultAPIAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.MaxListLimit == 0 {
		cfg.MaxListLimit = api.DefaultMaxListLimit
	}
	if cfg.CORSAllowedOrigins == nil {
		cfg.CORSAllowedOrigins = []string{}
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = defaultRequestsRate
	}
	if cfg.Burst == 0 {
		cfg.Burst = 2 * cfg.RequestsPerSecond
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// applyStorageDefaults sets storage defaults. The index file defaults to a
// sibling of the storage root so it never shows up as a stored file.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Root == "" {
		cfg.Root = filepath.Join(DefaultDataDir, "files")
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = filepath.Join(filepath.Dir(filepath.Clean(cfg.Root)), "index.json")
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = storage.DefaultMaxFileSize
	}
	if cfg.UploadChunkSize == 0 {
		cfg.UploadChunkSize = storage.DefaultChunkSize
	}
	if cfg.MaxTagsPerFile == 0 {
		cfg.MaxTagsPerFile = storage.DefaultMaxTagsPerFile
	}
	if cfg.MaxTagLength == 0 {
		cfg.MaxTagLength = storage.DefaultMaxTagLength
	}
	if cfg.AllowedMimeTypes == nil {
		cfg.AllowedMimeTypes = []string{}
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = DefaultReconcile
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

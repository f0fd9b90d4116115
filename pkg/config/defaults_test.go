package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/cloudstore/pkg/api"
	"github.com/marmos91/cloudstore/pkg/storage"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Address != ":8000" {
		t.Errorf("Expected default address ':8000', got %q", cfg.API.Address)
	}
	if cfg.API.MaxListLimit != api.DefaultMaxListLimit {
		t.Errorf("Expected default max_list_limit %d, got %d", api.DefaultMaxListLimit, cfg.API.MaxListLimit)
	}
	if cfg.API.CORSAllowedOrigins == nil {
		t.Error("Expected CORS origins to be initialized")
	}
}

func TestApplyDefaults_OptInFeatures(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Auth.Enabled || cfg.RateLimit.Enabled || cfg.Metrics.Enabled {
		t.Error("Auth, rate limiting and metrics must be disabled by default")
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("Expected default token TTL 1h, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.RateLimit.Burst != 2*cfg.RateLimit.RequestsPerSecond {
		t.Errorf("Expected burst to default to twice the rate, got %d", cfg.RateLimit.Burst)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_Storage(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	s := cfg.Storage
	if s.Root != filepath.Join("data", "files") {
		t.Errorf("Expected default root 'data/files', got %q", s.Root)
	}
	if s.IndexFile != filepath.Join("data", "index.json") {
		t.Errorf("Expected default index file 'data/index.json', got %q", s.IndexFile)
	}
	if s.MaxFileSize != storage.DefaultMaxFileSize {
		t.Errorf("Expected default max_file_size %d, got %d", storage.DefaultMaxFileSize, s.MaxFileSize)
	}
	if s.UploadChunkSize != storage.DefaultChunkSize {
		t.Errorf("Expected default chunk size %d, got %d", storage.DefaultChunkSize, s.UploadChunkSize)
	}
	if s.MaxTagsPerFile != 10 || s.MaxTagLength != 50 {
		t.Errorf("Expected tag limits 10/50, got %d/%d", s.MaxTagsPerFile, s.MaxTagLength)
	}
	if s.Capacity != DefaultCapacity {
		t.Errorf("Expected default capacity 20GiB, got %s", s.Capacity)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "json"},
		Storage: StorageConfig{
			Root:              "/srv/files",
			IndexFile:         "/var/lib/cloudstore/index.json",
			MaxTagsPerFile:    3,
			Capacity:          -1,
			ReconcileInterval: -1,
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" || cfg.Logging.Format != "json" {
		t.Errorf("Explicit logging values changed: %+v", cfg.Logging)
	}
	if cfg.Storage.IndexFile != "/var/lib/cloudstore/index.json" {
		t.Errorf("Explicit index file changed: %q", cfg.Storage.IndexFile)
	}
	if cfg.Storage.MaxTagsPerFile != 3 {
		t.Errorf("Explicit max_tags_per_file changed: %d", cfg.Storage.MaxTagsPerFile)
	}

	policy := cfg.Storage.StoragePolicy()
	if policy.Capacity != 0 {
		t.Errorf("Negative capacity must map to unlimited, got %d", policy.Capacity)
	}
	if policy.ReconcileInterval != 0 {
		t.Errorf("Negative reconcile interval must disable reconciliation, got %v", policy.ReconcileInterval)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

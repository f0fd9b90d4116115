package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateStore(t *testing.T) {
	base := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Storage.Root = filepath.Join(base, "files")
	cfg.Storage.IndexFile = filepath.Join(base, "index.json")

	// A file placed before startup is adopted by reconciliation.
	if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
		t.Fatalf("Failed to create root: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Storage.Root, "seed.txt"), []byte("seed"), 0644); err != nil {
		t.Fatalf("Failed to write seed file: %v", err)
	}

	store, err := CreateStore(context.Background(), &cfg.Storage, InitializeMetrics(cfg))
	if err != nil {
		t.Fatalf("CreateStore failed: %v", err)
	}

	if store.Index.Len() != 1 {
		t.Errorf("Expected the seed file to be indexed, got %d records", store.Index.Len())
	}
	if _, ok := store.Index.Get("seed.txt"); !ok {
		t.Error("Expected seed.txt in the index")
	}
	if _, err := os.Stat(cfg.Storage.IndexFile); err != nil {
		t.Errorf("Expected index snapshot at %s: %v", cfg.Storage.IndexFile, err)
	}
}

func TestCreateStore_CorruptIndex(t *testing.T) {
	base := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Storage.Root = filepath.Join(base, "files")
	cfg.Storage.IndexFile = filepath.Join(base, "index.json")

	if err := os.WriteFile(cfg.Storage.IndexFile, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write index: %v", err)
	}

	_, err := CreateStore(context.Background(), &cfg.Storage, InitializeMetrics(cfg))
	if err == nil {
		t.Fatal("Expected error for a corrupt index snapshot")
	}
	if !strings.Contains(err.Error(), "failed to open index") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCreateAuthenticator(t *testing.T) {
	cfg := GetDefaultConfig()

	authn, err := CreateAuthenticator(&cfg.Auth)
	if err != nil {
		t.Fatalf("CreateAuthenticator failed: %v", err)
	}
	if authn.Enabled() {
		t.Error("Expected authentication disabled by default")
	}

	cfg.Auth.Enabled = true
	if _, err := CreateAuthenticator(&cfg.Auth); err == nil {
		t.Error("Expected error for enabled auth without a hash")
	}
}

func TestCreateAdapters(t *testing.T) {
	base := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Storage.Root = filepath.Join(base, "files")
	cfg.Storage.IndexFile = filepath.Join(base, "index.json")

	m := InitializeMetrics(cfg)
	store, err := CreateStore(context.Background(), &cfg.Storage, m)
	if err != nil {
		t.Fatalf("CreateStore failed: %v", err)
	}
	authn, err := CreateAuthenticator(&cfg.Auth)
	if err != nil {
		t.Fatalf("CreateAuthenticator failed: %v", err)
	}

	adapters := CreateAdapters(cfg, store.Coordinator, authn, m)
	if len(adapters) != 1 {
		t.Fatalf("Expected only the API adapter with metrics disabled, got %d", len(adapters))
	}
	if adapters[0].Protocol() != "HTTP API" {
		t.Errorf("Unexpected adapter %q", adapters[0].Protocol())
	}
	if adapters[0].Port() != 8000 {
		t.Errorf("Expected API port 8000, got %d", adapters[0].Port())
	}
}

func TestAPIHandlerConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.RateLimit.Enabled = true

	hc := cfg.APIHandlerConfig()
	if hc.MaxUploadSize != int64(cfg.Storage.MaxFileSize) {
		t.Errorf("Expected upload size to follow storage.max_file_size, got %d", hc.MaxUploadSize)
	}
	if !hc.RateLimit.Enabled || hc.RateLimit.RequestsPerSecond != cfg.RateLimit.RequestsPerSecond {
		t.Errorf("Rate limit not carried over: %+v", hc.RateLimit)
	}

	sc := cfg.APIServerConfig()
	if sc.ShutdownTimeout != cfg.Server.ShutdownTimeout {
		t.Errorf("Expected shutdown timeout %v, got %v", cfg.Server.ShutdownTimeout, sc.ShutdownTimeout)
	}
}

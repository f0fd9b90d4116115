package config

import (
	"context"
	"fmt"

	"github.com/marmos91/cloudstore/pkg/auth"
	"github.com/marmos91/cloudstore/pkg/index"
	"github.com/marmos91/cloudstore/pkg/storage"
)

// Store bundles the metadata index with the coordinator that owns it.
type Store struct {
	Index       *index.Index
	Coordinator *storage.Coordinator
}

// StoragePolicy converts the storage section into the coordinator's policy.
func (c *StorageConfig) StoragePolicy() storage.Config {
	capacity := int64(c.Capacity)
	if capacity < 0 {
		capacity = 0
	}
	interval := c.ReconcileInterval
	if interval < 0 {
		interval = 0
	}

	return storage.Config{
		Root:              c.Root,
		MaxFileSize:       int64(c.MaxFileSize),
		ChunkSize:         int(c.UploadChunkSize),
		MaxTagsPerFile:    c.MaxTagsPerFile,
		MaxTagLength:      c.MaxTagLength,
		AllowedMimeTypes:  c.AllowedMimeTypes,
		Capacity:          capacity,
		ReconcileInterval: interval,
	}
}

// CreateStore opens the index snapshot and builds the coordinator on top of
// it. Startup reconciliation runs before CreateStore returns.
func CreateStore(ctx context.Context, cfg *StorageConfig, m *MetricsResult) (*Store, error) {
	idx, err := index.Open(cfg.IndexFile, index.WithMetrics(m.Index))
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", cfg.IndexFile, err)
	}

	coord, err := storage.New(ctx, cfg.StoragePolicy(), idx, storage.WithMetrics(m.Storage))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return &Store{Index: idx, Coordinator: coord}, nil
}

// CreateAuthenticator builds the authenticator described by the auth section.
func CreateAuthenticator(cfg *AuthConfig) (*auth.Authenticator, error) {
	authn, err := auth.New(auth.Config{
		Enabled:    cfg.Enabled,
		APIKeyHash: cfg.APIKeyHash,
		JWTSecret:  cfg.JWTSecret,
		TokenTTL:   cfg.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid auth configuration: %w", err)
	}
	return authn, nil
}

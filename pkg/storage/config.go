package storage

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Default limits, used for zero values in Config.
const (
	DefaultMaxFileSize    = 100 * humanize.MiByte
	DefaultChunkSize      = 8 * humanize.KiByte
	DefaultMaxTagsPerFile = 10
	DefaultMaxTagLength   = 50
)

// Config holds the storage policy enforced by the Coordinator.
type Config struct {
	// Root is the directory holding the stored files. Created if missing.
	Root string

	// MaxFileSize caps the size of a single upload in bytes.
	MaxFileSize int64

	// ChunkSize is the size of the buffers uploads are streamed through.
	ChunkSize int

	// MaxTagsPerFile caps the number of tags on one file.
	MaxTagsPerFile int

	// MaxTagLength caps the length of one tag, in characters. Longer tags are
	// dropped from patch requests without error.
	MaxTagLength int

	// AllowedMimeTypes restricts uploads to these media types. Entries may use
	// a "type/*" wildcard. Empty = unrestricted.
	AllowedMimeTypes []string

	// Capacity caps the total size of all stored files in bytes. 0 = unlimited.
	Capacity int64

	// ReconcileInterval is the period of background reconciliation.
	// 0 = reconcile at startup only.
	ReconcileInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxTagsPerFile <= 0 {
		c.MaxTagsPerFile = DefaultMaxTagsPerFile
	}
	if c.MaxTagLength <= 0 {
		c.MaxTagLength = DefaultMaxTagLength
	}
}

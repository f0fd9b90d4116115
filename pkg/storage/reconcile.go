package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/cloudstore/internal/logger"
	"github.com/marmos91/cloudstore/pkg/index"
)

// ReconcileStats contains statistics from a reconciliation pass.
type ReconcileStats struct {
	StartTime time.Time // When the pass started
	EndTime   time.Time // When the pass ended
	Scanned   int       // Regular files found under the root
	Indexed   int       // Records in the index before the pass
	Adopted   int       // Orphan files added to the index
	Removed   int       // Stale records removed from the index
	Skipped   int       // Entries that could not be read or named
}

// Duration returns the total pass duration.
func (s *ReconcileStats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the pass.
func (s *ReconcileStats) Summary() string {
	return fmt.Sprintf("scanned=%d indexed=%d adopted=%d removed=%d skipped=%d duration=%s",
		s.Scanned, s.Indexed, s.Adopted, s.Removed, s.Skipped, s.Duration())
}

// Reconcile makes the index match the files under the storage root.
//
// Regular files without a record are adopted (MIME type guessed, size
// measured, no tags). Records without a file are removed. Symlinks, other
// non-regular entries and the index snapshot are ignored.
//
// If part of the tree could not be read, stale records are kept for that
// pass: a record is only dropped when the walk proved its file is gone.
func (c *Coordinator) Reconcile(ctx context.Context) (stats *ReconcileStats, err error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	stats = &ReconcileStats{StartTime: time.Now()}
	defer func() {
		stats.EndTime = time.Now()
		c.metrics.RecordReconcile(stats.Adopted, stats.Removed, stats.Duration(), err)
		c.reportUsage()
	}()

	onDisk, incomplete, err := c.scan(ctx, stats)
	if err != nil {
		return stats, err
	}

	indexed := c.index.Paths()
	stats.Indexed = len(indexed)

	now := c.now()
	orphans := make([]index.Record, 0)
	for key, full := range onDisk {
		if c.index.Exists(key) {
			continue
		}
		info, err := lstatRegular(full)
		if err != nil {
			logger.Warn("Reconcile: skipping %s: %v", key, err)
			stats.Skipped++
			continue
		}
		orphans = append(orphans, index.Record{
			Path:       key,
			MimeType:   guessFileMimeType(key, full),
			Size:       info.Size(),
			Tags:       []string{},
			UploadedAt: now,
			UpdatedAt:  now,
		})
	}

	if len(orphans) > 0 {
		added, err := c.index.AddMany(orphans)
		if err != nil {
			return stats, internalError("adopt orphan files", err)
		}
		stats.Adopted = added
		logger.Info("Reconcile: adopted %d orphan files", added)
	}

	stale := make([]string, 0)
	for _, key := range indexed {
		if _, ok := onDisk[key]; !ok {
			stale = append(stale, key)
		}
	}

	switch {
	case len(stale) == 0:
	case incomplete:
		logger.Warn("Reconcile: storage root not fully readable, keeping %d unmatched records", len(stale))
	default:
		removed, err := c.index.DeleteMany(stale)
		if err != nil {
			return stats, internalError("remove stale records", err)
		}
		stats.Removed = removed
		logger.Info("Reconcile: removed %d stale records", removed)
	}

	return stats, nil
}

// scan walks the storage root and returns every storable regular file keyed
// by its index path. incomplete is set when some entry could not be read.
func (c *Coordinator) scan(ctx context.Context, stats *ReconcileStats) (files map[string]string, incomplete bool, err error) {
	files = make(map[string]string)

	err = filepath.WalkDir(c.root, func(full string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if full == c.root {
				return walkErr
			}
			logger.Warn("Reconcile: cannot read %s: %v", full, walkErr)
			stats.Skipped++
			incomplete = true
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, reserved := c.reserved[full]; reserved {
			return nil
		}

		rel, err := filepath.Rel(c.root, full)
		if err != nil {
			return nil
		}
		key, err := CleanPath(filepath.ToSlash(rel))
		if err != nil || key != filepath.ToSlash(rel) {
			logger.Warn("Reconcile: ignoring %s: not a storable path", full)
			stats.Skipped++
			return nil
		}

		stats.Scanned++
		files[key] = full
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to walk storage root: %w", err)
	}
	return files, incomplete, nil
}

func lstatRegular(full string) (fs.FileInfo, error) {
	info, err := os.Lstat(full)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, errors.New("not a regular file")
	}
	return info, nil
}

// Package storage keeps the files under the storage root and their records in
// the metadata index consistent with each other.
//
// Every mutation is a two-step operation (disk, then index). When the index
// step fails, the disk step is compensated: an upload is deleted, a rename is
// undone. Reconciliation repairs whatever a crash between the two steps left
// behind.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/oxtoacart/bpool"

	"github.com/marmos91/cloudstore/internal/logger"
	"github.com/marmos91/cloudstore/pkg/index"
	"github.com/marmos91/cloudstore/pkg/metrics"
)

// MetadataIndex is the subset of *index.Index used by the Coordinator.
type MetadataIndex interface {
	Get(path string) (index.Record, bool)
	Exists(path string) bool
	List(opts index.ListOptions) ([]index.Record, int)
	AddMany(records []index.Record) (int, error)
	DeleteMany(paths []string) (int, error)
	Update(path string, changes index.Changes) (index.Record, error)
	Paths() []string
	Len() int
	TotalSize() int64
	SnapshotPath() string
}

// Coordinator performs file operations under the storage root together with
// the matching index changes.
//
// Concurrency:
//   - mutations of the same path are serialized by a per-path lock
//   - mutations hold opMu shared; reconciliation holds it exclusively, so it
//     never sees a half-written upload or a rename between its two steps
type Coordinator struct {
	cfg      Config
	root     string
	index    MetadataIndex
	reserved map[string]struct{}

	opMu    sync.RWMutex
	locks   *pathLocks
	dirMu   sync.Mutex // orders directory creation against pruning
	pool    *bpool.BytePool
	now     func() time.Time
	metrics metrics.StorageMetrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics sets the metrics sink. nil keeps the no-op implementation.
func WithMetrics(m metrics.StorageMetrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the time source used for adopted records.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// PatchRequest describes a tag edit and/or rename.
type PatchRequest struct {
	AddTags    []string
	RemoveTags []string

	// NewPath renames the file. nil or empty = keep the current path.
	NewPath *string
}

// PatchResult reports the path and tags of a file after a patch.
type PatchResult struct {
	Path string
	Tags []string
}

// Stats summarizes the store for health checks.
type Stats struct {
	Files     int
	UsedBytes int64
	Capacity  int64
}

// New creates the storage root if needed and reconciles it with idx before
// returning, so the first request already sees a consistent index.
func New(ctx context.Context, cfg Config, idx MetadataIndex, opts ...Option) (*Coordinator, error) {
	if cfg.Root == "" {
		return nil, errors.New("storage root is required")
	}
	if idx == nil {
		return nil, errors.New("metadata index is required")
	}
	cfg.applyDefaults()

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	c := &Coordinator{
		cfg:      cfg,
		root:     root,
		index:    idx,
		reserved: make(map[string]struct{}),
		locks:    newPathLocks(),
		pool:     bpool.NewBytePool(32, cfg.ChunkSize),
		now:      func() time.Time { return time.Now().UTC() },
		metrics:  metrics.NewNoopStorageMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// The snapshot may live inside the root; it is never a stored file.
	if snap := idx.SnapshotPath(); snap != "" {
		if abs, err := filepath.Abs(snap); err == nil {
			c.reserved[abs] = struct{}{}
			c.reserved[abs+".tmp"] = struct{}{}
		}
	}

	stats, err := c.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("startup reconciliation failed: %w", err)
	}
	logger.Info("Storage ready at %s: %s", root, stats.Summary())

	return c, nil
}

// Root returns the absolute storage root.
func (c *Coordinator) Root() string {
	return c.root
}

// Config returns the effective configuration, defaults applied.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Put streams src into a new file at path and indexes it.
//
// The upload is all-or-nothing: on any failure, including cancellation of
// ctx, the partial file is removed and no record is added. Returns the
// number of bytes stored.
//
// Errors:
//   - ErrInvalidPath: path cannot be stored
//   - ErrConflict: path is already indexed
//   - ErrUnsupportedMediaType: resolved MIME type is not allowed
//   - ErrTooLarge: src is longer than MaxFileSize
//   - ErrStorageFull: src would push the store past Capacity
//   - ErrInternal: disk or index failure
func (c *Coordinator) Put(ctx context.Context, path string, src io.Reader, declaredMime string) (size int64, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordOperation("put", time.Since(start), err)
		if err == nil {
			c.metrics.RecordBytes("in", size)
			c.reportUsage()
		}
	}()

	key, full, err := c.resolve(path)
	if err != nil {
		return 0, err
	}

	c.opMu.RLock()
	defer c.opMu.RUnlock()
	unlock := c.locks.lock(key)
	defer unlock()

	if c.index.Exists(key) {
		return 0, fmt.Errorf("%s: %w", key, ErrConflict)
	}

	buf := c.pool.Get()
	defer c.pool.Put(buf)
	buf = buf[:c.cfg.ChunkSize]

	// The first chunk doubles as the sniffing sample for the MIME type.
	n, readErr := io.ReadFull(src, buf)
	if readErr != nil && !isShortRead(readErr) {
		return 0, internalError("read upload", readErr)
	}

	mimeType := resolveMimeType(key, declaredMime, buf[:n])
	if !mimeAllowed(mimeType, c.cfg.AllowedMimeTypes) {
		return 0, fmt.Errorf("%s (%s): %w", key, mimeType, ErrUnsupportedMediaType)
	}

	file, err := c.createFile(full)
	if err != nil {
		return 0, err
	}

	size, err = c.copyChunks(ctx, file, src, buf, n, readErr)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = internalError("close file", closeErr)
	}
	if err != nil {
		c.discard(full)
		return 0, err
	}

	now := c.now()
	if _, err := c.index.AddMany([]index.Record{{
		Path:       key,
		MimeType:   mimeType,
		Size:       size,
		Tags:       []string{},
		UploadedAt: now,
		UpdatedAt:  now,
	}}); err != nil {
		c.discard(full)
		return 0, internalError("index upload", err)
	}

	logger.Info("Stored %s (%d bytes, %s)", key, size, mimeType)
	return size, nil
}

// createFile creates full and any missing parent directories.
func (c *Coordinator) createFile(full string) (*os.File, error) {
	c.dirMu.Lock()
	defer c.dirMu.Unlock()

	parent := filepath.Dir(full)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, diskError("create parent directories", c.relative(parent), err)
	}
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		c.pruneEmptyDirsLocked(parent)
		return nil, diskError("create file", c.relative(full), err)
	}
	return file, nil
}

// copyChunks writes the already-read first chunk and then the rest of src to
// dst, enforcing the size and capacity limits before every write.
func (c *Coordinator) copyChunks(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, n int, readErr error) (int64, error) {
	var written int64
	used := c.index.TotalSize()

	for {
		if n > 0 {
			next := written + int64(n)
			if next > c.cfg.MaxFileSize {
				return written, fmt.Errorf("upload exceeds %d bytes: %w", c.cfg.MaxFileSize, ErrTooLarge)
			}
			if c.cfg.Capacity > 0 && used+next > c.cfg.Capacity {
				return written, fmt.Errorf("upload needs more than the %d bytes left: %w",
					max(c.cfg.Capacity-used, 0), ErrStorageFull)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, internalError("write chunk", err)
			}
			written = next
		}

		if readErr != nil {
			if isShortRead(readErr) {
				return written, nil
			}
			return written, internalError("read upload", readErr)
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr = io.ReadFull(src, buf)
	}
}

// Patch edits the tags of the file at path and optionally renames it.
//
// Tags longer than MaxTagLength (or empty) are dropped silently. If the
// resulting set would exceed MaxTagsPerFile, nothing changes and the result
// carries the unchanged tags alongside ErrTooManyTags. If the index update
// fails after the file was moved, the move is undone before returning.
//
// Errors:
//   - ErrInvalidPath: path or NewPath cannot be stored
//   - ErrNotFound: path is not indexed (or its file vanished before a rename)
//   - ErrConflict: NewPath is indexed or occupied on disk
//   - ErrTooManyTags: resulting tag count exceeds the limit
//   - ErrInternal: disk or index failure
func (c *Coordinator) Patch(ctx context.Context, path string, req PatchRequest) (result *PatchResult, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordOperation("patch", time.Since(start), err) }()

	key, full, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	newKey, newFull := key, full
	if req.NewPath != nil && *req.NewPath != "" {
		if newKey, newFull, err = c.resolve(*req.NewPath); err != nil {
			return nil, err
		}
	}
	rename := newKey != key

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.opMu.RLock()
	defer c.opMu.RUnlock()
	unlock := c.locks.lock(key, newKey)
	defer unlock()

	rec, ok := c.index.Get(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	tags := c.mergeTags(rec.Tags, req.AddTags, req.RemoveTags)
	if len(tags) > c.cfg.MaxTagsPerFile {
		return &PatchResult{Path: key, Tags: rec.Tags},
			fmt.Errorf("%d tags, at most %d allowed: %w", len(tags), c.cfg.MaxTagsPerFile, ErrTooManyTags)
	}

	changes := index.Changes{Tags: tags}
	if rename {
		if err := c.moveFile(key, full, newKey, newFull); err != nil {
			return nil, err
		}
		changes.Path = &newKey
	}

	updated, err := c.index.Update(key, changes)
	if err != nil {
		if rename {
			c.rollbackMove(full, newFull)
		}
		return nil, mapIndexError("update index", err)
	}

	if rename {
		c.pruneEmptyDirs(filepath.Dir(full))
		logger.Info("Renamed %s -> %s", key, newKey)
	}
	return &PatchResult{Path: updated.Path, Tags: updated.Tags}, nil
}

// moveFile renames src to dst on disk after checking dst is free.
func (c *Coordinator) moveFile(key, full, newKey, newFull string) error {
	if c.index.Exists(newKey) {
		return fmt.Errorf("%s: %w", newKey, ErrConflict)
	}
	if _, err := os.Lstat(newFull); err == nil {
		return fmt.Errorf("%s exists on disk: %w", newKey, ErrConflict)
	} else if !errors.Is(err, os.ErrNotExist) {
		return diskError("stat destination", newKey, err)
	}

	c.dirMu.Lock()
	defer c.dirMu.Unlock()

	parent := filepath.Dir(newFull)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return diskError("create parent directories", c.relative(parent), err)
	}
	if err := os.Rename(full, newFull); err != nil {
		c.pruneEmptyDirsLocked(parent)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s is missing on disk: %w", key, ErrNotFound)
		}
		return internalError("rename file", err)
	}
	return nil
}

// rollbackMove undoes moveFile. Failures are logged, never returned: the
// caller reports the error that triggered the rollback.
func (c *Coordinator) rollbackMove(full, newFull string) {
	c.dirMu.Lock()
	defer c.dirMu.Unlock()

	// A concurrent delete may have pruned the now empty source directory.
	err := os.MkdirAll(filepath.Dir(full), 0755)
	if err == nil {
		err = os.Rename(newFull, full)
	}
	if err != nil {
		logger.Error("Rollback of rename %s -> %s failed, file left at destination: %v", full, newFull, err)
		return
	}
	c.pruneEmptyDirsLocked(filepath.Dir(newFull))
	logger.Warn("Rolled back rename %s -> %s", full, newFull)
}

// mergeTags returns current + valid adds - removes, keeping first-seen order.
func (c *Coordinator) mergeTags(current, add, remove []string) []string {
	tags := make([]string, 0, len(current)+len(add))
	tags = append(tags, current...)

	for _, tag := range add {
		if tag == "" || utf8.RuneCountInString(tag) > c.cfg.MaxTagLength {
			logger.Debug("Dropping tag %q: length outside 1..%d", tag, c.cfg.MaxTagLength)
			continue
		}
		if !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}

	return slices.DeleteFunc(tags, func(tag string) bool {
		return slices.Contains(remove, tag)
	})
}

// Delete removes the file at path and its record.
//
// A file already missing from disk is not an error. If the file cannot be
// removed, the record is kept.
func (c *Coordinator) Delete(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordOperation("delete", time.Since(start), err)
		if err == nil {
			c.reportUsage()
		}
	}()

	key, full, err := c.resolve(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.opMu.RLock()
	defer c.opMu.RUnlock()
	unlock := c.locks.lock(key)
	defer unlock()

	if !c.index.Exists(key) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	if err := os.Remove(full); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return internalError("remove file", err)
		}
		logger.Warn("Deleting %s: file was already missing on disk", key)
	}

	if _, err := c.index.DeleteMany([]string{key}); err != nil {
		return internalError("remove record", err)
	}

	c.pruneEmptyDirs(filepath.Dir(full))
	logger.Info("Deleted %s", key)
	return nil
}

// Get opens the file at path for reading and returns it with its record.
// The caller closes the file.
//
// A record whose file is gone from disk is reported as ErrNotFound.
func (c *Coordinator) Get(ctx context.Context, path string) (file *os.File, rec index.Record, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordOperation("get", time.Since(start), err)
		if err == nil {
			c.metrics.RecordBytes("out", rec.Size)
		}
	}()

	key, full, err := c.resolve(path)
	if err != nil {
		return nil, index.Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, index.Record{}, err
	}

	rec, ok := c.index.Get(key)
	if !ok {
		return nil, index.Record{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	file, err = os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Record %s has no file on disk", key)
			return nil, index.Record{}, fmt.Errorf("%s is missing on disk: %w", key, ErrNotFound)
		}
		return nil, index.Record{}, internalError("open file", err)
	}

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, index.Record{}, fmt.Errorf("%s is not a regular file: %w", key, ErrNotFound)
	}

	return file, rec, nil
}

// List returns one page of records and the total number of matches.
func (c *Coordinator) List(ctx context.Context, opts index.ListOptions) (records []index.Record, total int, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordOperation("list", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	records, total = c.index.List(opts)
	return records, total, nil
}

// Stats returns the current file count and usage.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Files:     c.index.Len(),
		UsedBytes: c.index.TotalSize(),
		Capacity:  c.cfg.Capacity,
	}
}

func (c *Coordinator) reportUsage() {
	c.metrics.SetUsage(c.index.TotalSize(), c.cfg.Capacity)
}

// discard removes a file that must not survive a failed operation.
func (c *Coordinator) discard(full string) {
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("Failed to remove partial file %s: %v", full, err)
		return
	}
	c.pruneEmptyDirs(filepath.Dir(full))
}

// pruneEmptyDirs removes dir and its parents while they are empty, stopping
// at the storage root.
func (c *Coordinator) pruneEmptyDirs(dir string) {
	c.dirMu.Lock()
	defer c.dirMu.Unlock()
	c.pruneEmptyDirsLocked(dir)
}

func (c *Coordinator) pruneEmptyDirsLocked(dir string) {
	for dir != c.root && len(dir) > len(c.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// relative returns full relative to the storage root, slash separated.
func (c *Coordinator) relative(full string) string {
	if rel, err := filepath.Rel(c.root, full); err == nil {
		return filepath.ToSlash(rel)
	}
	return full
}

// diskError classifies a failed filesystem call on a destination path.
// A path component that is a file (ENOTDIR) or a destination that is a
// directory (EISDIR) means the path is taken by existing content.
func diskError(op, name string, err error) error {
	if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR) {
		return fmt.Errorf("%s is blocked by an existing file or directory: %w", name, ErrConflict)
	}
	return internalError(op, err)
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// mapIndexError translates index errors into storage errors.
func mapIndexError(op string, err error) error {
	switch {
	case errors.Is(err, index.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case errors.Is(err, index.ErrPathExists):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	default:
		return internalError(op, err)
	}
}

// Package index keeps the metadata of every stored file in memory and mirrors
// it to a single JSON snapshot on disk.
//
// All mutations go through one RWMutex, and the snapshot is rewritten under
// that lock before a mutation returns. A mutation whose snapshot write fails is
// undone in memory, so the in-memory state never runs ahead of the file.
//
// Exported methods take the lock exactly once; everything that runs under the
// lock lives in unexported *Locked helpers so compound operations never
// re-acquire it.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/cloudstore/internal/logger"
	"github.com/marmos91/cloudstore/pkg/metrics"
)

// entry is one indexed record plus its insertion sequence, which breaks
// ordering ties and fixes the key order of the snapshot.
type entry struct {
	rec Record
	seq uint64
}

// Index is the in-memory metadata index backed by a snapshot file.
//
// An Index is safe for concurrent use. A snapshot file must be owned by a
// single Index (and a single process) at a time.
type Index struct {
	mu sync.RWMutex

	path      string
	entries   map[string]*entry
	nextSeq   uint64
	totalSize int64

	now       func() time.Time
	writeFile func(path string, data []byte) error
	metrics   metrics.IndexMetrics
}

// Option configures an Index at Open.
type Option func(*Index)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(idx *Index) {
		if now != nil {
			idx.now = now
		}
	}
}

// WithMetrics sets the metrics sink. nil keeps the no-op implementation.
func WithMetrics(m metrics.IndexMetrics) Option {
	return func(idx *Index) {
		if m != nil {
			idx.metrics = m
		}
	}
}

// Open loads the index from the snapshot at path.
//
// A missing snapshot starts an empty index and immediately writes an empty
// snapshot (creating parent directories), so a later crash always finds a
// valid file. A snapshot that cannot be parsed is returned as
// ErrCorruptSnapshot and is left untouched on disk.
func Open(path string, opts ...Option) (*Index, error) {
	if path == "" {
		return nil, errors.New("index snapshot path is required")
	}

	idx := &Index{
		path:      path,
		entries:   make(map[string]*entry),
		now:       func() time.Time { return time.Now().UTC() },
		writeFile: writeFileAtomic,
		metrics:   metrics.NewNoopIndexMetrics(),
	}
	for _, opt := range opts {
		opt(idx)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		idx.mu.Lock()
		defer idx.mu.Unlock()
		if err := idx.persistLocked(); err != nil {
			return nil, err
		}
		logger.Info("Created empty index snapshot at %s", path)
		return idx, nil

	case err != nil:
		return nil, fmt.Errorf("failed to read index snapshot %s: %w", path, err)
	}

	records, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	for _, rec := range records {
		idx.insertLocked(rec)
	}
	idx.metrics.SetRecords(len(idx.entries), idx.totalSize)

	logger.Info("Loaded %d records from index snapshot %s", len(idx.entries), path)
	return idx, nil
}

// SnapshotPath returns the location of the snapshot file.
func (idx *Index) SnapshotPath() string {
	return idx.path
}

// Get returns a copy of the record stored under path.
func (idx *Index) Get(path string) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e, ok := idx.entries[path]
	if !ok {
		return Record{}, false
	}
	return e.rec.Clone(), true
}

// Exists reports whether path is indexed.
func (idx *Index) Exists(path string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	_, ok := idx.entries[path]
	return ok
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.entries)
}

// TotalSize returns the sum of the sizes of all indexed records.
func (idx *Index) TotalSize() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.totalSize
}

// Paths returns every indexed path in insertion order.
func (idx *Index) Paths() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ordered := idx.orderedLocked()
	paths := make([]string, len(ordered))
	for i, rec := range ordered {
		paths[i] = rec.Path
	}
	return paths
}

// List returns one page of records and the total number of matches.
//
// Records are ordered by UploadedAt, newest first; records uploaded at the
// same instant keep their insertion order. List never fails: an offset past
// the end or a non-positive limit yields an empty page.
func (idx *Index) List(opts ListOptions) ([]Record, int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := make([]*entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		if opts.Tag == "" || e.rec.HasTag(opts.Tag) {
			matches = append(matches, e)
		}
	}

	slices.SortFunc(matches, func(a, b *entry) int {
		if c := b.rec.UploadedAt.Compare(a.rec.UploadedAt); c != 0 {
			return c
		}
		if a.seq < b.seq {
			return -1
		}
		if a.seq > b.seq {
			return 1
		}
		return 0
	})

	total := len(matches)
	offset := max(opts.Offset, 0)
	if opts.Limit <= 0 || offset >= total {
		return []Record{}, total
	}
	end := total
	if opts.Limit < total-offset {
		end = offset + opts.Limit
	}

	page := make([]Record, 0, end-offset)
	for _, e := range matches[offset:end] {
		page = append(page, e.rec.Clone())
	}
	return page, total
}

// AddMany inserts every record whose path is not yet indexed and persists once.
//
// Records already present, and repeated paths within the batch, are skipped.
// Zero timestamps are filled with the current time. The whole batch is
// rejected with ErrInvalidRecord if any record has an empty path or a negative
// size. Returns the number of records inserted.
func (idx *Index) AddMany(records []Record) (int, error) {
	for _, rec := range records {
		if err := validateRecord(rec); err != nil {
			return 0, err
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := idx.now()
	added := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := idx.entries[rec.Path]; ok {
			continue
		}
		rec = rec.Clone()
		if rec.UploadedAt.IsZero() {
			rec.UploadedAt = now
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.UploadedAt
		}
		idx.insertLocked(rec)
		added = append(added, rec.Path)
	}

	if len(added) == 0 {
		return 0, nil
	}

	if err := idx.persistLocked(); err != nil {
		for _, p := range added {
			idx.removeLocked(p)
		}
		idx.nextSeq -= uint64(len(added))
		return 0, err
	}

	logger.Debug("Indexed %d new records", len(added))
	return len(added), nil
}

// DeleteMany removes every indexed path in paths and persists once.
//
// Paths that are not indexed are skipped. Returns the number removed.
func (idx *Index) DeleteMany(paths []string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := make([]*entry, 0, len(paths))
	for _, p := range paths {
		if e := idx.removeLocked(p); e != nil {
			removed = append(removed, e)
		}
	}

	if len(removed) == 0 {
		return 0, nil
	}

	if err := idx.persistLocked(); err != nil {
		for _, e := range removed {
			idx.restoreLocked(e)
		}
		return 0, err
	}

	logger.Debug("Removed %d records from index", len(removed))
	return len(removed), nil
}

// Update applies changes to the record stored under path and persists once.
//
// A new path re-keys the record within the same critical section; the record
// keeps its UploadedAt and its position in insertion order. UpdatedAt is
// always refreshed.
//
// Errors:
//   - ErrNotFound: path is not indexed
//   - ErrPathExists: changes.Path is already indexed
//   - ErrInvalidRecord: changes.Path is empty
func (idx *Index) Update(path string, changes Changes) (Record, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old, ok := idx.entries[path]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}

	newPath := path
	if changes.Path != nil && *changes.Path != path {
		newPath = *changes.Path
		if newPath == "" {
			return Record{}, fmt.Errorf("empty destination path: %w", ErrInvalidRecord)
		}
		if _, taken := idx.entries[newPath]; taken {
			return Record{}, fmt.Errorf("%s: %w", newPath, ErrPathExists)
		}
	}

	updated := old.rec.Clone()
	updated.Path = newPath
	if changes.Tags != nil {
		updated.Tags = slices.Clone(changes.Tags)
	}
	updated.UpdatedAt = idx.now()

	previous := *old
	idx.removeLocked(path)
	idx.restoreLocked(&entry{rec: updated, seq: old.seq})

	if err := idx.persistLocked(); err != nil {
		idx.removeLocked(newPath)
		idx.restoreLocked(&previous)
		return Record{}, err
	}

	if newPath != path {
		logger.Debug("Re-keyed record %s -> %s", path, newPath)
	}
	return updated.Clone(), nil
}

func validateRecord(rec Record) error {
	if rec.Path == "" {
		return fmt.Errorf("empty path: %w", ErrInvalidRecord)
	}
	if rec.Size < 0 {
		return fmt.Errorf("%s: negative size %d: %w", rec.Path, rec.Size, ErrInvalidRecord)
	}
	return nil
}

// insertLocked adds rec with the next sequence number. Caller holds mu.
func (idx *Index) insertLocked(rec Record) {
	idx.restoreLocked(&entry{rec: rec, seq: idx.nextSeq})
	idx.nextSeq++
}

// restoreLocked puts e back under its own path and sequence. Caller holds mu.
func (idx *Index) restoreLocked(e *entry) {
	idx.entries[e.rec.Path] = e
	idx.totalSize += e.rec.Size
}

// removeLocked drops path and returns the removed entry, or nil. Caller holds mu.
func (idx *Index) removeLocked(path string) *entry {
	e, ok := idx.entries[path]
	if !ok {
		return nil
	}
	delete(idx.entries, path)
	idx.totalSize -= e.rec.Size
	return e
}

// orderedLocked returns all records in insertion order. Caller holds mu.
func (idx *Index) orderedLocked() []Record {
	ordered := make([]*entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		ordered = append(ordered, e)
	}
	slices.SortFunc(ordered, func(a, b *entry) int {
		if a.seq < b.seq {
			return -1
		}
		if a.seq > b.seq {
			return 1
		}
		return 0
	})

	records := make([]Record, len(ordered))
	for i, e := range ordered {
		records[i] = e.rec
	}
	return records
}

// persistLocked rewrites the snapshot from the in-memory state. Caller holds mu.
func (idx *Index) persistLocked() error {
	start := time.Now()

	data, err := encodeSnapshot(idx.orderedLocked())
	if err == nil {
		err = idx.writeFile(idx.path, data)
	}
	idx.metrics.RecordPersist(time.Since(start), len(data), err)

	if err != nil {
		logger.Error("Failed to persist index snapshot %s: %v", idx.path, err)
		return fmt.Errorf("failed to persist index snapshot: %w", err)
	}

	idx.metrics.SetRecords(len(idx.entries), idx.totalSize)
	return nil
}

package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// snapshotRecord is the on-disk form of a Record. The path is the object key.
type snapshotRecord struct {
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Tags       []string  `json:"tags"`
	UploadedAt time.Time `json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// encodeSnapshot serializes records as a single JSON object keyed by path.
//
// encoding/json sorts map keys, so the object is assembled by hand to keep the
// keys in insertion order; decodeSnapshot relies on that order.
func encodeSnapshot(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return []byte("{}\n"), nil
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")

	for i, rec := range records {
		key, err := json.Marshal(rec.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to encode key %q: %w", rec.Path, err)
		}

		tags := rec.Tags
		if tags == nil {
			tags = []string{}
		}

		body, err := json.MarshalIndent(snapshotRecord{
			MimeType:   rec.MimeType,
			Size:       rec.Size,
			Tags:       tags,
			UploadedAt: rec.UploadedAt,
			UpdatedAt:  rec.UpdatedAt,
		}, "  ", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %q: %w", rec.Path, err)
		}

		buf.WriteString("  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(body)
		if i < len(records)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}

	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// decodeSnapshot parses a snapshot and returns its records in file order.
//
// Anything other than a single well-formed object of records is reported as
// ErrCorruptSnapshot: empty input, a non-object root, null or non-object
// values, duplicate or empty keys, negative sizes and trailing data.
func decodeSnapshot(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: root is not an object", ErrCorruptSnapshot)
	}

	seen := make(map[string]struct{})
	records := make([]Record, 0)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		key, ok := tok.(string)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: invalid key %v", ErrCorruptSnapshot, tok)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrCorruptSnapshot, key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: record %q: %v", ErrCorruptSnapshot, key, err)
		}
		if len(raw) == 0 || raw[0] != '{' {
			return nil, fmt.Errorf("%w: record %q is not an object", ErrCorruptSnapshot, key)
		}

		var sr snapshotRecord
		if err := json.Unmarshal(raw, &sr); err != nil {
			return nil, fmt.Errorf("%w: record %q: %v", ErrCorruptSnapshot, key, err)
		}
		if sr.Size < 0 {
			return nil, fmt.Errorf("%w: record %q has negative size", ErrCorruptSnapshot, key)
		}

		tags := sr.Tags
		if tags == nil {
			tags = []string{}
		}

		records = append(records, Record{
			Path:       key,
			MimeType:   sr.MimeType,
			Size:       sr.Size,
			Tags:       tags,
			UploadedAt: sr.UploadedAt.UTC(),
			UpdatedAt:  sr.UpdatedAt.UTC(),
		})
	}

	// Closing brace
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after snapshot", ErrCorruptSnapshot)
	}

	return records, nil
}

// writeFileAtomic replaces path with data using write-to-temp + rename.
//
// The temporary file lives next to the target (same filesystem, so the rename
// is atomic) and is fsynced before the rename. A crash before the rename
// leaves the previous file intact; a crash after it leaves the new one. On any
// failure the temporary file is removed and the target is untouched.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temporary snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temporary snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	success = true

	// Persist the rename itself. Not every platform allows syncing a directory.
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}

	return nil
}

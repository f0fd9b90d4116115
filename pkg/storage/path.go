package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanPath validates a client-supplied path and returns its canonical,
// slash-separated form, which is also the index key.
//
// Leading slashes are tolerated ("/a/b" names the same file as "a/b").
// Paths that resolve outside the root, contain NUL bytes or backslashes, or
// name a directory (trailing slash) are rejected with ErrInvalidPath.
func CleanPath(p string) (string, error) {
	trimmed := strings.TrimLeft(p, "/")
	if trimmed == "" || strings.HasSuffix(trimmed, "/") {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	if strings.ContainsAny(trimmed, "\x00\\") {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}

	cleaned := path.Clean(trimmed)
	if !filepath.IsLocal(filepath.FromSlash(cleaned)) {
		return "", fmt.Errorf("%q escapes the storage root: %w", p, ErrInvalidPath)
	}
	return cleaned, nil
}

// resolve validates p and returns its index key and absolute location.
func (c *Coordinator) resolve(p string) (key, full string, err error) {
	key, err = CleanPath(p)
	if err != nil {
		return "", "", err
	}
	full = filepath.Join(c.root, filepath.FromSlash(key))
	if _, reserved := c.reserved[full]; reserved {
		return "", "", fmt.Errorf("%q is reserved: %w", p, ErrInvalidPath)
	}
	return key, full, nil
}

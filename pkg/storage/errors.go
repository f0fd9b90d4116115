package storage

import (
	"errors"
	"fmt"
)

// Callers map these with errors.Is. Every error returned by the Coordinator
// wraps exactly one of them (the BadRequest family wraps ErrBadRequest too).
//
// Protocol Mapping (HTTP):
//   - ErrNotFound: 404
//   - ErrConflict: 409
//   - ErrBadRequest, ErrInvalidPath, ErrTooManyTags: 400
//   - ErrTooLarge: 413
//   - ErrUnsupportedMediaType: 415
//   - ErrStorageFull: 507
//   - ErrInternal: 500
var (
	// ErrNotFound indicates the path is not indexed, or is indexed but its
	// file is gone from disk.
	ErrNotFound = errors.New("file not found")

	// ErrConflict indicates the destination path is already taken.
	ErrConflict = errors.New("file already exists")

	// ErrBadRequest is the parent of every policy violation caused by input.
	ErrBadRequest = errors.New("bad request")

	// ErrInvalidPath indicates a path that is empty, absolute, escapes the
	// storage root or names a reserved file.
	ErrInvalidPath = fmt.Errorf("invalid path: %w", ErrBadRequest)

	// ErrTooManyTags indicates the resulting tag set would exceed the per-file limit.
	ErrTooManyTags = fmt.Errorf("too many tags: %w", ErrBadRequest)

	// ErrUnsupportedMediaType indicates a MIME type outside allowed_mime_types.
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type: %w", ErrBadRequest)

	// ErrTooLarge indicates an upload exceeding max_file_size.
	ErrTooLarge = errors.New("file too large")

	// ErrStorageFull indicates an upload that would exceed the storage capacity.
	ErrStorageFull = errors.New("storage capacity exceeded")

	// ErrInternal wraps I/O and persistence failures not caused by the caller.
	ErrInternal = errors.New("internal storage error")
)

// internalError tags err as ErrInternal while keeping the cause inspectable.
func internalError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}

package index

import "errors"

var (
	// ErrNotFound indicates that no record exists for the requested path.
	//
	// Returned by Update. Get and Exists report absence through their
	// boolean result instead.
	ErrNotFound = errors.New("record not found")

	// ErrPathExists indicates that a rename targets a path that is already indexed.
	ErrPathExists = errors.New("record already exists")

	// ErrInvalidRecord indicates a record that can never be stored
	// (empty path or negative size).
	ErrInvalidRecord = errors.New("invalid record")

	// ErrCorruptSnapshot indicates that the persisted snapshot could not be parsed.
	//
	// This is fatal for Open: the snapshot is never silently replaced, since
	// doing so would hide the corruption and drop every record.
	ErrCorruptSnapshot = errors.New("corrupt index snapshot")
)

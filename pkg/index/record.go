package index

import (
	"slices"
	"time"
)

// Record is the metadata describing one stored file.
//
// Path is the primary key of the index and, at the same time, the location of
// the file relative to the storage root (slash separated). Size is the number
// of bytes measured while the file was written and must match the file on disk.
// Tags behave as a set; their order is kept for display only.
type Record struct {
	Path       string    `json:"filepath"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Tags       []string  `json:"tags"`
	UploadedAt time.Time `json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasTag reports whether the record carries tag.
func (r Record) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// Clone returns a deep copy so callers never share the index's tag slices.
func (r Record) Clone() Record {
	c := r
	if r.Tags == nil {
		c.Tags = []string{}
	} else {
		c.Tags = slices.Clone(r.Tags)
	}
	return c
}

// Changes describes a partial update applied by Index.Update.
//
// The zero value changes nothing except UpdatedAt.
type Changes struct {
	// Tags replaces the tag set.
	// nil = do not change, empty slice = remove all tags
	Tags []string

	// Path re-keys the record under a new path.
	// nil = do not change
	Path *string
}

// ListOptions selects and paginates records returned by Index.List.
type ListOptions struct {
	// Tag restricts the result to records carrying this tag.
	// Empty = no filter
	Tag string

	// Offset skips leading records of the ordered result. Negative values count as 0.
	Offset int

	// Limit caps the number of returned records. Values <= 0 return an empty page.
	Limit int
}

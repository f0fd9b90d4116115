package storage

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultMimeType = "application/octet-stream"

// genericMimeTypes carry no information about the payload. Clients such as
// curl send them by default, so they never override the guessed type.
var genericMimeTypes = map[string]struct{}{
	"application/octet-stream":          {},
	"binary/octet-stream":               {},
	"application/x-www-form-urlencoded": {},
	"application/unknown":               {},
	"*/*":                               {},
}

// resolveMimeType picks the MIME type stored for an upload.
//
// The declared type wins unless it is missing, malformed or generic; then the
// type is guessed from the extension of name, and finally sniffed from head.
func resolveMimeType(name, declared string, head []byte) string {
	if declared != "" {
		if mediaType, params, err := mime.ParseMediaType(declared); err == nil {
			if _, generic := genericMimeTypes[mediaType]; !generic {
				return mime.FormatMediaType(mediaType, params)
			}
		}
	}
	return guessMimeType(name, head)
}

// guessMimeType guesses from the extension, falling back to content sniffing.
func guessMimeType(name string, head []byte) string {
	if ext := path.Ext(name); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if len(head) > 0 {
		return mimetype.Detect(head).String()
	}
	return defaultMimeType
}

// guessFileMimeType is guessMimeType for a file already on disk.
func guessFileMimeType(name, fullPath string) string {
	if ext := path.Ext(name); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if m, err := mimetype.DetectFile(fullPath); err == nil {
		return m.String()
	}
	return defaultMimeType
}

// mimeAllowed reports whether mimeType matches one of allowed. Parameters are
// ignored and "type/*" entries match any subtype. An empty list allows all.
func mimeAllowed(mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	base := mimeType
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		base = mediaType
	}
	base = strings.ToLower(base)

	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == base {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(base, prefix+"/") {
			return true
		}
	}
	return false
}

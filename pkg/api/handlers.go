package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/cloudstore/internal/logger"
	"github.com/marmos91/cloudstore/pkg/auth"
	"github.com/marmos91/cloudstore/pkg/index"
	"github.com/marmos91/cloudstore/pkg/metrics"
	"github.com/marmos91/cloudstore/pkg/storage"
)

// maxJSONBody caps the size of JSON request bodies (patch, login).
const maxJSONBody = 1 << 20

// FileStore is the storage surface served by the API.
type FileStore interface {
	Put(ctx context.Context, path string, src io.Reader, declaredMime string) (int64, error)
	Patch(ctx context.Context, path string, req storage.PatchRequest) (*storage.PatchResult, error)
	Delete(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (*os.File, index.Record, error)
	List(ctx context.Context, opts index.ListOptions) ([]index.Record, int, error)
	Stats() storage.Stats
}

type handlers struct {
	store FileStore
	auth  *auth.Authenticator
	cfg   Config
}

// FileList is the data of a list response.
type FileList struct {
	Files []index.Record `json:"files"`
	Total int            `json:"total"`
}

// UploadResult is the data of an upload response.
type UploadResult struct {
	Path string `json:"filepath"`
	Size int64  `json:"size"`
}

// PatchBody is the JSON body of a patch request.
type PatchBody struct {
	NewPath    *string  `json:"new_filepath,omitempty"`
	AddTags    []string `json:"add_tags,omitempty"`
	RemoveTags []string `json:"remove_tags,omitempty"`
}

// PatchResponse is the data of a patch response.
type PatchResponse struct {
	Path string   `json:"filepath"`
	Tags []string `json:"tags"`
}

// DeleteResult is the data of a delete response.
type DeleteResult struct {
	Path string `json:"filepath"`
}

// Health is the data of a health response.
type Health struct {
	Status        string `json:"status"`
	Files         int    `json:"files"`
	UsedBytes     int64  `json:"used_bytes"`
	CapacityBytes int64  `json:"capacity_bytes"`
	Used          string `json:"used"`
	Capacity      string `json:"capacity"`
}

// LoginBody is the JSON body of a login request.
type LoginBody struct {
	APIKey string `json:"api_key"`
}

// Token is the data of a login response.
type Token struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()

	capacity := "unlimited"
	if stats.Capacity > 0 {
		capacity = humanize.IBytes(uint64(stats.Capacity))
	}

	writeOK(w, http.StatusOK, "ok", Health{
		Status:        "ok",
		Files:         stats.Files,
		UsedBytes:     stats.UsedBytes,
		CapacityBytes: stats.Capacity,
		Used:          humanize.IBytes(uint64(stats.UsedBytes)),
		Capacity:      capacity,
	})
}

func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	handler := metrics.Handler()
	if handler == nil {
		writeFail(w, http.StatusServiceUnavailable, "metrics collection is disabled")
		return
	}
	handler.ServeHTTP(w, r)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(auth.APIKeyHeader)
	if key == "" && r.ContentLength != 0 {
		var body LoginBody
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		key = body.APIKey
	}

	token, expiresAt, err := h.auth.IssueToken(key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, "token issued", Token{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}

func (h *handlers) listFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, r, fmt.Errorf("offset: %w", err))
		return
	}
	limit, err := intParam(q.Get("limit"), min(DefaultListLimit, h.cfg.MaxListLimit))
	if err != nil {
		writeError(w, r, fmt.Errorf("limit: %w", err))
		return
	}
	limit = min(limit, h.cfg.MaxListLimit)

	files, total, err := h.store.List(r.Context(), index.ListOptions{
		Tag:    q.Get("tag"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeOK(w, http.StatusOK, fmt.Sprintf("%d of %d files", len(files), total), FileList{Files: files, Total: total})
}

func (h *handlers) getFile(w http.ResponseWriter, r *http.Request) {
	file, rec, err := h.store.Get(r.Context(), r.PathValue("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = file.Close() }()

	w.Header().Set("Content-Type", rec.MimeType)
	if len(rec.Tags) > 0 {
		w.Header().Set("X-File-Tags", strings.Join(rec.Tags, ","))
	}
	w.Header().Set("X-Uploaded-At", rec.UploadedAt.Format(time.RFC3339))

	http.ServeContent(w, r, path.Base(rec.Path), rec.UpdatedAt, file)
}

func (h *handlers) putFile(w http.ResponseWriter, r *http.Request) {
	key, err := storage.CleanPath(r.PathValue("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	src, declared, err := h.uploadSource(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	size, err := h.store.Put(r.Context(), key, src, declared)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeOK(w, http.StatusCreated, "file uploaded", UploadResult{Path: key, Size: size})
}

// uploadSource returns the payload of an upload request: the "file" part of
// a multipart form, or the raw body otherwise. A raw body announced as larger
// than MaxUploadSize is rejected before anything is read.
func (h *handlers) uploadSource(r *http.Request) (io.Reader, string, error) {
	declared := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(declared)
	if mediaType != "multipart/form-data" {
		if h.cfg.MaxUploadSize > 0 && r.ContentLength > h.cfg.MaxUploadSize {
			return nil, "", fmt.Errorf("%d bytes, at most %d allowed: %w",
				r.ContentLength, h.cfg.MaxUploadSize, storage.ErrTooLarge)
		}
		return r.Body, declared, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", storage.ErrBadRequest, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", fmt.Errorf("%w: multipart body has no \"file\" field", storage.ErrBadRequest)
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", storage.ErrBadRequest, err)
		}
		if part.FormName() == "file" {
			return part, part.Header.Get("Content-Type"), nil
		}
	}
}

func (h *handlers) patchFile(w http.ResponseWriter, r *http.Request) {
	var body PatchBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.store.Patch(r.Context(), r.PathValue("path"), storage.PatchRequest{
		AddTags:    body.AddTags,
		RemoveTags: body.RemoveTags,
		NewPath:    body.NewPath,
	})
	if err != nil {
		var data any
		if res != nil {
			data = PatchResponse{Path: res.Path, Tags: res.Tags}
		}
		writeErrorData(w, r, err, data)
		return
	}

	writeOK(w, http.StatusOK, "file updated", PatchResponse{Path: res.Path, Tags: res.Tags})
}

func (h *handlers) deleteFile(w http.ResponseWriter, r *http.Request) {
	key, err := storage.CleanPath(r.PathValue("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.Delete(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "file deleted", DeleteResult{Path: key})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		logger.Debug("Invalid JSON body: %v", err)
		return fmt.Errorf("%w: invalid JSON body", storage.ErrBadRequest)
	}
	return nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", storage.ErrBadRequest, raw)
	}
	return n, nil
}

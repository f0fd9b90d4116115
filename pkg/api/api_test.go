package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/cloudstore/pkg/auth"
	"github.com/marmos91/cloudstore/pkg/index"
	"github.com/marmos91/cloudstore/pkg/storage"
)

const testAPIKey = "test-api-key"

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	handler http.Handler
	coord   *storage.Coordinator
	headers map[string]string
}

func newTestServer(t *testing.T, authCfg auth.Config, cfg Config) *testServer {
	t.Helper()

	base := t.TempDir()
	idx, err := index.Open(filepath.Join(base, "index.json"))
	require.NoError(t, err)

	coord, err := storage.New(context.Background(), storage.Config{
		Root:           filepath.Join(base, "files"),
		MaxFileSize:    64,
		ChunkSize:      16,
		MaxTagsPerFile: 2,
		MaxTagLength:   8,
	}, idx)
	require.NoError(t, err)

	authn, err := auth.New(authCfg)
	require.NoError(t, err)

	return &testServer{
		handler: NewHandler(coord, authn, cfg),
		coord:   coord,
		headers: map[string]string{},
	}
}

func (s *testServer) do(t *testing.T, method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "192.0.2.10:4000"
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestFileLifecycle(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{})

	rec := s.do(t, http.MethodPost, "/files/a/b.txt", strings.NewReader("hello"), "Content-Type", "text/plain")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var up UploadResult
	env := decode(t, rec, &up)
	assert.True(t, env.Success)
	assert.Equal(t, UploadResult{Path: "a/b.txt", Size: 5}, up)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = s.do(t, http.MethodPost, "/files/a/b.txt", strings.NewReader("again"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, decode(t, rec, nil).Success)

	rec = s.do(t, http.MethodPatch, "/files/a/b.txt",
		strings.NewReader(`{"new_filepath":"a/c.txt","add_tags":["x","y"]}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patched PatchResponse
	decode(t, rec, &patched)
	assert.Equal(t, PatchResponse{Path: "a/c.txt", Tags: []string{"x", "y"}}, patched)

	rec = s.do(t, http.MethodGet, "/files/a/b.txt", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/files/a/c.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "x,y", rec.Header().Get("X-File-Tags"))

	rec = s.do(t, http.MethodGet, "/files/a/c.txt", nil, "Range", "bytes=1-3")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "ell", rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/files/a/c.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted DeleteResult
	decode(t, rec, &deleted)
	assert.Equal(t, "a/c.txt", deleted.Path)

	rec = s.do(t, http.MethodDelete, "/files/a/c.txt", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFiles(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{MaxListLimit: 2})

	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		rec := s.do(t, http.MethodPost, "/files/"+name, strings.NewReader(name))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := s.do(t, http.MethodPatch, "/files/two.txt", strings.NewReader(`{"add_tags":["keep"]}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/files?limit=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list FileList
	decode(t, rec, &list)
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Files, 2, "limit is capped by MaxListLimit")

	rec = s.do(t, http.MethodGet, "/files?tag=keep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "two.txt", list.Files[0].Path)
	assert.Equal(t, []string{"keep"}, list.Files[0].Tags)

	rec = s.do(t, http.MethodGet, "/files?offset=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Empty(t, list.Files)
	assert.Equal(t, 3, list.Total)

	for _, q := range []string{"limit=abc", "offset=-1", "limit=1.5"} {
		rec = s.do(t, http.MethodGet, "/files?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{MaxUploadSize: 64})

	t.Run("declared too large", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/files/big.bin", bytes.NewReader(make([]byte, 100)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("streamed too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/files/big.bin", io.MultiReader(bytes.NewReader(make([]byte, 100))))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

		rec = s.do(t, http.MethodGet, "/files/big.bin", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("escaping path", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/files/..%2F..%2Fescape.txt", strings.NewReader("x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("multipart without file field", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("other", "value"))
		require.NoError(t, mw.Close())

		rec := s.do(t, http.MethodPost, "/files/m.txt", &body, "Content-Type", mw.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadBlockedByExistingFileConflicts(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{})

	rec := s.do(t, http.MethodPost, "/files/a", strings.NewReader("plain file"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/files/a/b.txt", strings.NewReader("nested"))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPatch, "/files/a", strings.NewReader(`{"new_filepath":"a/c.txt"}`))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestResponsesReportIndexKey(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{})
	h := &handlers{store: s.coord, cfg: Config{}}

	req := httptest.NewRequest(http.MethodPost, "/files/x", strings.NewReader("body"))
	req.SetPathValue("path", "/docs//./report.txt")
	rec := httptest.NewRecorder()
	h.putFile(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var up UploadResult
	decode(t, rec, &up)
	assert.Equal(t, "docs/report.txt", up.Path)
	records, _, err := s.coord.List(context.Background(), index.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "docs/report.txt", records[0].Path)

	req = httptest.NewRequest(http.MethodDelete, "/files/x", nil)
	req.SetPathValue("path", "docs/../docs/report.txt")
	rec = httptest.NewRecorder()
	h.deleteFile(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var del DeleteResult
	decode(t, rec, &del)
	assert.Equal(t, "docs/report.txt", del.Path)

	req = httptest.NewRequest(http.MethodDelete, "/files/x", nil)
	req.SetPathValue("path", "../outside.txt")
	rec = httptest.NewRecorder()
	h.deleteFile(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMultipartUpload(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="data.csv"`},
		"Content-Type":        {"text/csv"},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := s.do(t, http.MethodPost, "/files/reports/data.csv", &body, "Content-Type", mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/files/reports/data.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a,b\n1,2\n", rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}

func TestPatchErrors(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{})

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/files/a.txt", strings.NewReader("a")).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/files/b.txt", strings.NewReader("b")).Code)
	require.Equal(t, http.StatusOK,
		s.do(t, http.MethodPatch, "/files/a.txt", strings.NewReader(`{"add_tags":["one"]}`)).Code)

	t.Run("too many tags keeps the current set", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, "/files/a.txt", strings.NewReader(`{"add_tags":["two","three"]}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var data PatchResponse
		env := decode(t, rec, &data)
		assert.False(t, env.Success)
		assert.Equal(t, []string{"one"}, data.Tags)
	})

	t.Run("rename onto existing file", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, "/files/a.txt", strings.NewReader(`{"new_filepath":"b.txt"}`))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown file", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, "/files/missing.txt", strings.NewReader(`{}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := s.do(t, http.MethodPatch, "/files/a.txt", strings.NewReader(`{"add_tags":`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthentication(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	require.NoError(t, err)

	s := newTestServer(t, auth.Config{Enabled: true, APIKeyHash: string(hash), JWTSecret: "secret"}, Config{})

	rec := s.do(t, http.MethodGet, "/files", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = s.do(t, http.MethodGet, "/files", nil, auth.APIKeyHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/files", nil, auth.APIKeyHeader, testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health needs no credentials")

	rec = s.do(t, http.MethodPost, "/login", strings.NewReader(`{"api_key":"wrong"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/login", strings.NewReader(`{"api_key":"`+testAPIKey+`"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var token Token
	decode(t, rec, &token)
	require.NotEmpty(t, token.Token)
	assert.Equal(t, "Bearer", token.TokenType)

	rec = s.do(t, http.MethodPost, "/files/t.txt", strings.NewReader("t"), "Authorization", "Bearer "+token.Token)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/files/t.txt", nil, "Authorization", "Bearer "+token.Token+"x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginWithoutTokens(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{})

	rec := s.do(t, http.MethodPost, "/login", strings.NewReader(`{"api_key":"x"}`))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 2},
	})

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{})
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/files/h.txt", strings.NewReader("12345")).Code)

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health Health
	decode(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Files)
	assert.Equal(t, int64(5), health.UsedBytes)
	assert.Equal(t, "unlimited", health.Capacity)
}

func TestMetricsDisabled(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{})

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, auth.Config{}, Config{CORSAllowedOrigins: []string{"https://app.example"}})

	rec := s.do(t, http.MethodGet, "/health", nil, "Origin", "https://app.example")
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.do(t, http.MethodGet, "/health", nil, "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{storage.ErrConflict, http.StatusConflict},
		{storage.ErrInvalidPath, http.StatusBadRequest},
		{storage.ErrTooManyTags, http.StatusBadRequest},
		{storage.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{storage.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{storage.ErrStorageFull, http.StatusInsufficientStorage},
		{storage.ErrInternal, http.StatusInternalServerError},
		{auth.ErrMissingCredentials, http.StatusUnauthorized},
		{auth.ErrTokensDisabled, http.StatusNotImplemented},
		{context.Canceled, http.StatusRequestTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

// Package api exposes the storage coordinator over HTTP.
//
// Routes:
//   - GET    /health            store status, no auth
//   - GET    /metrics           Prometheus metrics, no auth
//   - POST   /login             exchange an API key for a bearer token
//   - GET    /files             list records (?tag=&offset=&limit=)
//   - GET    /files/{path...}   download a file (supports Range requests)
//   - POST   /files/{path...}   upload a file (raw body or multipart "file")
//   - PATCH  /files/{path...}   edit tags and/or rename
//   - DELETE /files/{path...}   delete a file
//
// Every JSON response uses the {success, message, data} envelope.
package api

import (
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/marmos91/cloudstore/internal/ratelimiter"
	"github.com/marmos91/cloudstore/pkg/auth"
	"github.com/marmos91/cloudstore/pkg/metrics"
)

const (
	// DefaultListLimit is the page size used when a list request has no limit.
	DefaultListLimit = 100

	// DefaultMaxListLimit caps the page size a client may ask for.
	DefaultMaxListLimit = 1000

	rateLimitIdleTTL = 10 * time.Minute
)

// RateLimitConfig configures per-client request throttling.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond uint
	Burst             uint
}

// Config configures the HTTP handler.
type Config struct {
	// MaxListLimit caps the limit query parameter of GET /files.
	// Default: 1000
	MaxListLimit int

	// MaxUploadSize rejects raw uploads whose Content-Length exceeds it
	// before reading the body. 0 = leave the check to the store.
	MaxUploadSize int64

	// CORSAllowedOrigins lists origins allowed by CORS. Empty = CORS disabled.
	CORSAllowedOrigins []string

	RateLimit RateLimitConfig
}

func (c *Config) applyDefaults() {
	if c.MaxListLimit <= 0 {
		c.MaxListLimit = DefaultMaxListLimit
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond == 0 {
			c.RateLimit.RequestsPerSecond = 50
		}
		if c.RateLimit.Burst == 0 {
			c.RateLimit.Burst = 2 * c.RateLimit.RequestsPerSecond
		}
	}
}

// Option configures the handler built by NewHandler.
type Option func(*options)

type options struct {
	metrics metrics.HTTPMetrics
	limiter *ratelimiter.KeyedLimiter
}

// WithMetrics sets the HTTP metrics sink. nil keeps the no-op implementation.
func WithMetrics(m metrics.HTTPMetrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLimiter replaces the limiter built from Config.RateLimit.
func WithLimiter(l *ratelimiter.KeyedLimiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// NewHandler builds the HTTP handler serving store.
//
// Middleware order, outermost first: observability (request ID, logs,
// metrics, panic recovery), CORS, rate limiting, then per-route auth.
func NewHandler(store FileStore, authn *auth.Authenticator, cfg Config, opts ...Option) http.Handler {
	cfg.applyDefaults()

	o := &options{metrics: metrics.NewNoopHTTPMetrics()}
	for _, opt := range opts {
		opt(o)
	}
	if o.limiter == nil && cfg.RateLimit.Enabled {
		o.limiter = ratelimiter.NewKeyed(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, rateLimitIdleTTL)
	}

	h := &handlers{store: store, auth: authn, cfg: cfg}

	protected := func(fn http.HandlerFunc) http.HandlerFunc {
		return routed(requireAuth(fn, authn))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", routed(h.health))
	mux.HandleFunc("GET /metrics", routed(h.metrics))
	mux.HandleFunc("POST /login", routed(h.login))
	mux.HandleFunc("GET /files", protected(h.listFiles))
	mux.HandleFunc("GET /files/{path...}", protected(h.getFile))
	mux.HandleFunc("POST /files/{path...}", protected(h.putFile))
	mux.HandleFunc("PATCH /files/{path...}", protected(h.patchFile))
	mux.HandleFunc("DELETE /files/{path...}", protected(h.deleteFile))

	var handler http.Handler = mux
	if o.limiter != nil {
		handler = withRateLimit(handler, o.limiter, o.metrics)
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodHead,
			},
			AllowedHeaders:   []string{"Authorization", "Content-Type", auth.APIKeyHeader, requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader, "X-File-Tags", "Retry-After"},
			AllowCredentials: true,
		}).Handler(handler)
	}
	return withObservability(handler, o.metrics)
}

package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/cloudstore/internal/logger"
	"github.com/marmos91/cloudstore/internal/ratelimiter"
	"github.com/marmos91/cloudstore/pkg/auth"
	"github.com/marmos91/cloudstore/pkg/metrics"
)

const requestIDHeader = "X-Request-ID"

// requestInfo is shared between the outer logging middleware and the
// handlers, which run on a copy of the request.
type requestInfo struct {
	id    string
	route string
}

type requestInfoKey struct{}

func requestID(ctx context.Context) string {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info.id
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(p []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(p)
	rec.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// withObservability assigns a request ID, logs every request and records
// HTTP metrics. Panics in inner handlers are logged and answered with 500.
func withObservability(next http.Handler, m metrics.HTTPMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		info := &requestInfo{id: id, route: "unmatched"}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

		m.InFlight(1)
		defer func() {
			m.InFlight(-1)

			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Error("Panic serving %s %s [%s]: %v", r.Method, r.URL.Path, id, p)
				writeFail(rec, http.StatusInternalServerError, "internal server error")
			}

			duration := time.Since(start)
			m.RecordRequest(r.Method, info.route, rec.status, duration)
			logger.Info("%s %s %d %dB %s [%s]", r.Method, r.URL.Path, rec.status, rec.bytes, duration, id)
		}()

		next.ServeHTTP(rec, r)
	})
}

// routed records the matched mux pattern for logs and metrics.
func routed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			info.route = r.Pattern
		}
		next(w, r)
	}
}

// withRateLimit rejects clients that exceed their request budget with 429.
// Clients are keyed by remote IP so unauthenticated requests count too.
func withRateLimit(next http.Handler, limiter *ratelimiter.KeyedLimiter, m metrics.HTTPMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := limiter.Allow(clientIP(r))
		if !ok {
			m.RecordRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeFail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth rejects requests without valid credentials.
func requireAuth(next http.HandlerFunc, authn *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := authn.Authenticate(r)
		if err != nil {
			logger.Debug("Rejected %s %s from %s: %v", r.Method, r.URL.Path, clientIP(r), err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="cloudstore"`)
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(auth.WithClient(r.Context(), client)))
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package ratelimiter implements token bucket rate limiting for the REST API,
// globally or per client.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// unlimited stands in for rate.Inf, which reports zero tokens and no delay
// information.
const unlimited = 1_000_000_000

// RateLimiter is a single token bucket.
//
// Tokens are added at a constant rate and each request consumes one. The
// burst is the bucket capacity: how many requests can be served back to back
// after an idle period.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter.
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: Defaults to requestsPerSecond, and at least 1
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = unlimited
	}
	if burst == 0 {
		burst = max(requestsPerSecond, 1)
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Reserve consumes a token if one is available and otherwise reports how
// long the caller should wait before retrying. No token is consumed on
// rejection.
func (r *RateLimiter) Reserve() (ok bool, retryAfter time.Duration) {
	now := time.Now()
	res := r.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// KeyedLimiter keeps one RateLimiter per client key (API key, token subject or
// remote address). Buckets idle for longer than the idle TTL are dropped; a
// returning client starts with a full bucket.
type KeyedLimiter struct {
	requestsPerSecond uint
	burst             uint
	idleTTL           time.Duration

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastPrune time.Time
	now       func() time.Time
}

type clientBucket struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewKeyed creates a per-client limiter. idleTTL <= 0 defaults to ten minutes.
func NewKeyed(requestsPerSecond, burst uint, idleTTL time.Duration) *KeyedLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedLimiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idleTTL:           idleTTL,
		clients:           make(map[string]*clientBucket),
		lastPrune:         time.Now(),
		now:               time.Now,
	}
}

// Allow reports whether the client identified by key may proceed. When it may
// not, retryAfter is the time until its next token.
func (k *KeyedLimiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	return k.bucket(key).Reserve()
}

func (k *KeyedLimiter) bucket(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastPrune) >= k.idleTTL {
		k.pruneLocked(now)
	}

	b, ok := k.clients[key]
	if !ok {
		b = &clientBucket{limiter: New(k.requestsPerSecond, k.burst)}
		k.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Prune drops the buckets of clients idle for longer than the idle TTL and
// returns how many were dropped.
func (k *KeyedLimiter) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pruneLocked(k.now())
}

func (k *KeyedLimiter) pruneLocked(now time.Time) int {
	dropped := 0
	for key, b := range k.clients {
		if now.Sub(b.lastSeen) > k.idleTTL {
			delete(k.clients, key)
			dropped++
		}
	}
	k.lastPrune = now
	return dropped
}

// Len returns the number of tracked clients.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.clients)
}

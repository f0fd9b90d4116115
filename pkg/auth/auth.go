// Package auth authenticates API clients.
//
// Clients present either the shared API key (X-API-Key header, stored in the
// configuration as a bcrypt hash) or a bearer token obtained from /login by
// exchanging that key. Tokens are HS256 JWTs signed with the configured secret.
package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyHeader carries the raw API key.
	APIKeyHeader = "X-API-Key"

	issuer          = "cloudstore"
	apiKeySubject   = "api-key"
	defaultTokenTTL = time.Hour
)

var (
	// ErrMissingCredentials indicates a request with neither an API key nor a token.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidCredentials indicates a wrong API key or an invalid or expired token.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokensDisabled indicates that no JWT secret is configured.
	ErrTokensDisabled = errors.New("token authentication is not configured")
)

// Config configures the Authenticator.
type Config struct {
	// Enabled turns authentication on. When off every request is accepted.
	Enabled bool

	// APIKeyHash is the bcrypt hash of the API key.
	APIKeyHash string

	// JWTSecret signs bearer tokens. Empty disables /login and bearer tokens.
	JWTSecret string

	// TokenTTL is the lifetime of issued tokens.
	// Default: 1h
	TokenTTL time.Duration
}

// Claims are the JWT claims of an issued token.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator verifies API keys and bearer tokens.
//
// Thread safety: Safe for concurrent use.
type Authenticator struct {
	cfg    Config
	secret []byte
	now    func() time.Time

	// bcrypt is deliberately slow; digests of keys that already matched the
	// hash are remembered so repeat requests skip it.
	verifiedMu sync.RWMutex
	verified   map[[sha256.Size]byte]struct{}
}

// New creates an Authenticator, rejecting an enabled configuration without a
// valid bcrypt hash.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Enabled {
		if cfg.APIKeyHash == "" {
			return nil, errors.New("auth enabled but no api_key_hash configured")
		}
		if _, err := bcrypt.Cost([]byte(cfg.APIKeyHash)); err != nil {
			return nil, fmt.Errorf("api_key_hash is not a bcrypt hash: %w", err)
		}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	return &Authenticator{
		cfg:      cfg,
		secret:   []byte(cfg.JWTSecret),
		now:      time.Now,
		verified: make(map[[sha256.Size]byte]struct{}),
	}, nil
}

// HashAPIKey returns the bcrypt hash to put in the configuration for key.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("api key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// Enabled reports whether requests must authenticate.
func (a *Authenticator) Enabled() bool {
	return a.cfg.Enabled
}

// TokensEnabled reports whether /login can issue tokens.
func (a *Authenticator) TokensEnabled() bool {
	return a.cfg.Enabled && len(a.secret) > 0
}

// CheckAPIKey verifies key against the configured hash.
func (a *Authenticator) CheckAPIKey(key string) error {
	if key == "" {
		return ErrMissingCredentials
	}

	digest := sha256.Sum256([]byte(key))
	a.verifiedMu.RLock()
	_, ok := a.verified[digest]
	a.verifiedMu.RUnlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.cfg.APIKeyHash), []byte(key)); err != nil {
		return ErrInvalidCredentials
	}

	a.verifiedMu.Lock()
	a.verified[digest] = struct{}{}
	a.verifiedMu.Unlock()
	return nil
}

// IssueToken exchanges a valid API key for a signed token.
func (a *Authenticator) IssueToken(apiKey string) (token string, expiresAt time.Time, err error) {
	if !a.TokensEnabled() {
		return "", time.Time{}, ErrTokensDisabled
	}
	if err := a.CheckAPIKey(apiKey); err != nil {
		return "", time.Time{}, err
	}

	now := a.now()
	expiresAt = now.Add(a.cfg.TokenTTL)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   apiKeySubject,
			Issuer:    issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// VerifyToken parses and validates a token issued by IssueToken.
func (a *Authenticator) VerifyToken(token string) (*Claims, error) {
	if !a.TokensEnabled() {
		return nil, ErrTokensDisabled
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return claims, nil
}

// Authenticate checks the credentials of r and returns the client identity
// used for logging and rate limiting. With authentication disabled it
// returns an empty identity and no error.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if !a.cfg.Enabled {
		return "", nil
	}

	if key := r.Header.Get(APIKeyHeader); key != "" {
		if err := a.CheckAPIKey(key); err != nil {
			return "", err
		}
		return apiKeySubject, nil
	}

	if token, ok := bearerToken(r); ok {
		claims, err := a.VerifyToken(token)
		if err != nil {
			return "", err
		}
		return "token:" + claims.ID, nil
	}

	return "", ErrMissingCredentials
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type contextKey struct{}

// WithClient stores the authenticated client identity in ctx.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, contextKey{}, client)
}

// ClientFromContext returns the identity stored by WithClient.
func ClientFromContext(ctx context.Context) string {
	client, _ := ctx.Value(contextKey{}).(string)
	return client
}

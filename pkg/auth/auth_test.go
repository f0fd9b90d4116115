package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testKey = "s3cret-key"

func newTestAuth(t *testing.T, secret string) *Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)

	a, err := New(Config{Enabled: true, APIKeyHash: string(hash), JWTSecret: secret, TokenTTL: time.Minute})
	require.NoError(t, err)
	return a
}

func TestNew_RejectsBadHash(t *testing.T) {
	_, err := New(Config{Enabled: true})
	assert.Error(t, err)

	_, err = New(Config{Enabled: true, APIKeyHash: "plaintext"})
	assert.Error(t, err)

	a, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, a.Enabled())
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey("abc")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("abc")))

	_, err = HashAPIKey("")
	assert.Error(t, err)
}

func TestCheckAPIKey(t *testing.T) {
	a := newTestAuth(t, "")

	assert.NoError(t, a.CheckAPIKey(testKey))
	assert.NoError(t, a.CheckAPIKey(testKey), "cached verification")
	assert.ErrorIs(t, a.CheckAPIKey("wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, a.CheckAPIKey(""), ErrMissingCredentials)
}

func TestTokens(t *testing.T) {
	a := newTestAuth(t, "signing-secret")

	_, _, err := a.IssueToken("wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, expiresAt, err := a.IssueToken(testKey)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	claims, err := a.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "api-key", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	// Tokens signed with another secret are rejected.
	other := newTestAuth(t, "another-secret")
	_, err = other.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Expired tokens are rejected.
	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = a.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokensDisabledWithoutSecret(t *testing.T) {
	a := newTestAuth(t, "")
	assert.False(t, a.TokensEnabled())

	_, _, err := a.IssueToken(testKey)
	assert.ErrorIs(t, err, ErrTokensDisabled)
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuth(t, "signing-secret")
	token, _, err := a.IssueToken(testKey)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		value      string
		wantClient string
		wantErr    error
	}{
		{"api key", APIKeyHeader, testKey, "api-key", nil},
		{"wrong api key", APIKeyHeader, "nope", "", ErrInvalidCredentials},
		{"bearer token", "Authorization", "Bearer " + token, "", nil},
		{"lowercase scheme", "Authorization", "bearer " + token, "", nil},
		{"garbage token", "Authorization", "Bearer abc.def.ghi", "", ErrInvalidCredentials},
		{"basic auth", "Authorization", "Basic Zm9vOmJhcg==", "", ErrMissingCredentials},
		{"nothing", "", "", "", ErrMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/files", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}

			client, err := a.Authenticate(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantClient != "" {
				assert.Equal(t, tt.wantClient, client)
			} else {
				assert.Contains(t, client, "token:")
			}
		})
	}
}

func TestAuthenticate_Disabled(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)

	client, err := a.Authenticate(httptest.NewRequest("GET", "/files", nil))
	assert.NoError(t, err)
	assert.Empty(t, client)
}

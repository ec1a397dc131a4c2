package crypto

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestDeriveKey(t *testing.T) {
	secret := bytes.Repeat([]byte("s"), MinSecretLength)

	a, err := DeriveKey(secret, "purpose/a", 32)
	require.NoError(t, err)
	again, err := DeriveKey(secret, "purpose/a", 32)
	require.NoError(t, err)
	b, err := DeriveKey(secret, "purpose/b", 32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)

	_, err = DeriveKey(secret[:MinSecretLength-1], "purpose/a", 32)
	assert.ErrorIs(t, err, ErrWeakSecret)
	_, err = DeriveKey(secret, "purpose/a", 0)
	assert.Error(t, err)
}

func TestSecretHasher(t *testing.T) {
	h := NewSecretHasher(HashConfig{Cost: bcrypt.MinCost})

	hash, err := h.Hash("op-key-1")
	require.NoError(t, err)
	assert.True(t, CheckSecret(hash, "op-key-1"))
	assert.False(t, CheckSecret(hash, "op-key-2"))
	assert.False(t, CheckSecret("", "op-key-1"))
	assert.False(t, CheckSecret(hash, ""))

	_, err = h.Hash("")
	assert.Error(t, err)

	assert.Equal(t, bcrypt.DefaultCost, NewSecretHasher(HashConfig{Cost: 99}).cost)
}

func TestClaimsDefaults(t *testing.T) {
	var c Claims
	assert.Equal(t, []string{}, c.GetRoles())
	assert.Equal(t, "user", c.GetActorType())
	c.ActorType = "api"
	assert.Equal(t, "api", c.GetActorType())
	c.ActorType = "robot"
	assert.Equal(t, "user", c.GetActorType())
}

const testIssuer = "https://auth.formbricks.test"

type jwksFixture struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	hits   atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &jwksFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		_ = json.NewEncoder(w).Encode(jwks{Keys: []jsonWebKey{
			{Kty: "EC", Use: "sig", Kid: "ignored"},
			{
				Kty: "RSA",
				Use: "sig",
				Kid: "k1",
				N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			},
		}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-7",
			Issuer:    testIssuer,
			ID:        "sess-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"audit:admin"},
		OrgID: "org-1",
	}
}

func TestCachingClientVerifyToken(t *testing.T) {
	f := newJWKSFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := NewJWKSCachingClient(ctx, JWKSConfig{URL: f.server.URL, Issuer: testIssuer, RefreshInterval: time.Hour}, logger)
	require.NoError(t, err)

	claims, err := c.VerifyToken(ctx, f.sign(t, "k1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "op-7", claims.Subject)
	assert.Equal(t, []string{"audit:admin"}, claims.GetRoles())
	assert.Equal(t, "org-1", claims.OrgID)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err = c.VerifyToken(ctx, f.sign(t, "k1", expired))
	assert.ErrorIs(t, err, ErrExpiredToken)

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://elsewhere.test"
	_, err = c.VerifyToken(ctx, f.sign(t, "k1", wrongIssuer))
	assert.ErrorIs(t, err, ErrInvalidToken)

	hits := f.hits.Load()
	_, err = c.VerifyToken(ctx, f.sign(t, "rotated", validClaims()))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, hits+1, f.hits.Load(), "an unknown kid forces one refresh")

	_, err = c.VerifyToken(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCachingClientThrottlesUnknownKids(t *testing.T) {
	f := newJWKSFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewJWKSCachingClient(ctx, JWKSConfig{
		URL:             f.server.URL,
		Issuer:          testIssuer,
		RefreshInterval: time.Hour,
		MinRefreshGap:   time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	hits := f.hits.Load()
	for _, kid := range []string{"a", "b", "c"} {
		_, err := c.VerifyToken(ctx, f.sign(t, kid, validClaims()))
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, hits, f.hits.Load(), "unknown kids inside the gap do not refetch")

	_, err = c.VerifyToken(ctx, f.sign(t, "k1", validClaims()))
	assert.NoError(t, err)
}

func TestNewJWKSCachingClientRequiresConfig(t *testing.T) {
	_, err := NewJWKSCachingClient(context.Background(), JWKSConfig{URL: "http://x"}, nil)
	assert.Error(t, err)
}

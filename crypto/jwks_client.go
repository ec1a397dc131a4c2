package crypto

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidToken = errors.New("crypto: invalid token")
	ErrExpiredToken = errors.New("crypto: token expired")
)

type JWKSVerifier interface {
	VerifyToken(ctx context.Context, tokenString string) (*Claims, error)
}

type JWKSConfig struct {
	URL             string        `envconfig:"AUDIT_JWKS_URL"`
	Issuer          string        `envconfig:"AUDIT_JWT_ISSUER"`
	RefreshInterval time.Duration `envconfig:"AUDIT_JWKS_REFRESH" default:"10m"`
	// MinRefreshGap bounds how often an unknown kid may trigger a fetch.
	// Zero allows a fetch for every unknown kid.
	MinRefreshGap time.Duration `envconfig:"AUDIT_JWKS_MIN_REFRESH_GAP" default:"30s"`
}

type jwks struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// CachingClient verifies RS* tokens against a key set fetched from a JWKS
// endpoint. Concurrent refreshes collapse into one request.
type CachingClient struct {
	cfg    JWKSConfig
	client *http.Client
	log    *slog.Logger
	fetch  singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastRefresh time.Time
}

// NewJWKSCachingClient fetches the key set once and keeps refreshing it in the
// background until ctx is done.
func NewJWKSCachingClient(ctx context.Context, cfg JWKSConfig, logger *slog.Logger) (*CachingClient, error) {
	if cfg.URL == "" || cfg.Issuer == "" {
		return nil, errors.New("jwks client: URL and Issuer are mandatory")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &CachingClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    logger.With("component", "jwks_client"),
		keys:   map[string]*rsa.PublicKey{},
	}
	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("jwks client: initial key fetch: %w", err)
	}

	go c.refreshLoop(ctx)
	return c, nil
}

func (c *CachingClient) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := c.refresh(rctx); err != nil {
				c.log.Error("JWKS refresh failed, keeping the previous key set", "error", err)
			}
			cancel()
		}
	}
}

// refresh replaces the key set. Callers arriving while a fetch is in flight
// share its result.
func (c *CachingClient) refresh(ctx context.Context) error {
	_, err, _ := c.fetch.Do("jwks", func() (any, error) {
		keys, err := c.download(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = keys
		c.lastRefresh = time.Now()
		c.mu.Unlock()
		c.log.Debug("JWKS key set refreshed", "keys", len(keys))
		return nil, nil
	})
	return err
}

func (c *CachingClient) download(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || jwk.Use != "sig" || jwk.Kid == "" {
			c.log.Warn("Skipping unusable JWK", "kid", jwk.Kid, "kty", jwk.Kty, "use", jwk.Use)
			continue
		}
		key, err := jwk.publicKey()
		if err != nil {
			c.log.Error("Skipping malformed JWK", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = key
	}
	if len(keys) == 0 {
		return nil, errors.New("JWKS response contains no RSA signature keys")
	}
	return keys, nil
}

func (j jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("invalid exponent: out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

// key returns the cached key for kid. An unknown kid triggers one refresh,
// unless the last refresh is more recent than MinRefreshGap.
func (c *CachingClient) key(ctx context.Context, kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	recent := time.Since(c.lastRefresh) < c.cfg.MinRefreshGap
	c.mu.RUnlock()
	if ok || recent {
		return key, ok
	}

	c.log.Warn("Unknown JWKS kid, refreshing key set", "kid", kid)
	if err := c.refresh(ctx); err != nil {
		c.log.Error("On-demand JWKS refresh failed", "error", err)
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	return key, ok
}

func (c *CachingClient) VerifyToken(ctx context.Context, tokenString string) (*Claims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid header", ErrInvalidToken)
	}

	key, ok := c.key(ctx, kid)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kid %q", ErrInvalidToken, kid)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

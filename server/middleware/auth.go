package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/SaurabhJain708/formbricks/http/response"
	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

// AuthPayload decouples the strategy from the HTTP request.
type AuthPayload struct {
	Headers    map[string]string
	RemoteAddr string
	Method     string
	Path       string
}

// AuthStrategy authenticates a caller and returns a context carrying the principal.
type AuthStrategy interface {
	Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error)
}

type AuthMiddleware struct {
	strategy AuthStrategy
}

func NewAuthMiddleware(strategy AuthStrategy) *AuthMiddleware {
	return &AuthMiddleware{strategy: strategy}
}

func (m *AuthMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := make(map[string]string, len(r.Header))
		for k, v := range r.Header {
			if len(v) > 0 {
				headers[http.CanonicalHeaderKey(k)] = v[0]
			}
		}

		ctx, err := m.strategy.Authenticate(r.Context(), AuthPayload{
			Headers:    headers,
			RemoteAddr: r.RemoteAddr,
			Method:     r.Method,
			Path:       r.URL.Path,
		})
		if err != nil {
			response.Fail(w, r, response.ErrInvalidToken, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects principals that carry none of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, role := range roles {
				if contextx.HasRole(r.Context(), role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Fail(w, r, response.ErrForbidden, "one of roles "+strings.Join(roles, ", ")+" required")
		})
	}
}

// GetHeader looks a header up case-insensitively.
func (p *AuthPayload) GetHeader(key string) string {
	if v, ok := p.Headers[key]; ok {
		return v
	}
	if v, ok := p.Headers[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	for k, v := range p.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (p *AuthPayload) remoteHost() string {
	return hostOnly(p.RemoteAddr)
}

// FirstOf tries each strategy in order and keeps the first that succeeds.
func FirstOf(strategies ...AuthStrategy) AuthStrategy {
	return chainStrategy(strategies)
}

type chainStrategy []AuthStrategy

func (c chainStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	err := errNoCredentials
	for _, s := range c {
		out, sErr := s.Authenticate(ctx, payload)
		if sErr == nil {
			return out, nil
		}
		err = sErr
	}
	return nil, err
}

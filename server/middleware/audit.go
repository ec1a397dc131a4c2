package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

// RequestMetadata stores the caller's address and the request URL in the
// context. The audit recorder reads them when an event leaves them empty.
// X-Forwarded-For and X-Real-Ip are honoured only when the peer is one of
// trustedProxies; otherwise the peer address is used.
func RequestMetadata(trustedProxies []string) (func(http.Handler) http.Handler, error) {
	cidrs, err := parseCIDRs(trustedProxies)
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := contextx.WithEntryPoint(r.Context(), "http")
			ctx = contextx.WithClientIP(ctx, clientIP(r, cidrs))
			ctx = contextx.WithAPIURL(ctx, r.URL.RequestURI())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// clientIP takes the first X-Forwarded-For hop, then X-Real-Ip, when the
// peer is a trusted proxy.
func clientIP(r *http.Request, trusted []*net.IPNet) string {
	peer := hostOnly(r.RemoteAddr)
	ip := net.ParseIP(peer)
	if ip == nil || !containsIP(trusted, ip) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if hop := strings.TrimSpace(first); hop != "" {
			return hop
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xrip != "" {
		return xrip
	}
	return peer
}

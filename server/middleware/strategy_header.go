package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

// TrustedHeaderStrategy accepts identity headers set by a gateway, but only
// from peers inside the trusted CIDRs.
type TrustedHeaderStrategy struct {
	trustedCIDRs []*net.IPNet
	logger       *slog.Logger

	headerUserID string
	headerRoles  string
	headerOrgID  string
}

type TrustedHeaderConfig struct {
	TrustedProxies []string `envconfig:"AUDIT_TRUSTED_PROXIES"`
	HeaderUserID   string   `envconfig:"AUDIT_HEADER_USER_ID" default:"X-Formbricks-User-Id"`
	HeaderRoles    string   `envconfig:"AUDIT_HEADER_ROLES" default:"X-Formbricks-Roles"`
	HeaderOrgID    string   `envconfig:"AUDIT_HEADER_ORG_ID" default:"X-Formbricks-Org-Id"`
}

func NewTrustedHeaderStrategy(cfg TrustedHeaderConfig, logger *slog.Logger) (*TrustedHeaderStrategy, error) {
	if len(cfg.TrustedProxies) == 0 {
		return nil, errors.New("security_risk: trusted_proxies list cannot be empty in gateway mode")
	}

	cidrs, err := parseCIDRs(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	if cfg.HeaderUserID == "" {
		cfg.HeaderUserID = "X-Formbricks-User-Id"
	}
	if cfg.HeaderRoles == "" {
		cfg.HeaderRoles = "X-Formbricks-Roles"
	}
	if cfg.HeaderOrgID == "" {
		cfg.HeaderOrgID = "X-Formbricks-Org-Id"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TrustedHeaderStrategy{
		trustedCIDRs: cidrs,
		logger:       logger,
		headerUserID: cfg.HeaderUserID,
		headerRoles:  cfg.HeaderRoles,
		headerOrgID:  cfg.HeaderOrgID,
	}, nil
}

func (s *TrustedHeaderStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	ip := net.ParseIP(payload.remoteHost())
	if ip == nil {
		s.logger.WarnContext(ctx, "Auth rejected: failed to parse remote addr", "addr", payload.RemoteAddr)
		return nil, errors.New("unauthorized gateway connection")
	}

	if !containsIP(s.trustedCIDRs, ip) {
		s.logger.WarnContext(ctx, "SECURITY ALERT: Untrusted IP attempted to spoof Gateway",
			"ip", ip.String(),
			"path", payload.Path,
		)
		return nil, errors.New("forbidden: untrusted source")
	}

	userID := payload.GetHeader(s.headerUserID)
	if userID == "" {
		return nil, errors.New("missing identity header")
	}

	roles := []string{}
	for _, role := range strings.Split(payload.GetHeader(s.headerRoles), ",") {
		if trimmed := strings.TrimSpace(role); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}

	ctx = contextx.WithAuthPrincipalID(ctx, userID)
	ctx = contextx.WithAuthPrincipalType(ctx, "user")
	ctx = contextx.WithAuthRoles(ctx, roles)
	if org := payload.GetHeader(s.headerOrgID); org != "" {
		ctx = contextx.WithOrganizationID(ctx, org)
	}
	return ctx, nil
}

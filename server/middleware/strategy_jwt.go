package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/SaurabhJain708/formbricks/crypto"
	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

type JWTStrategy struct {
	verifier crypto.JWKSVerifier
	logger   *slog.Logger
}

func NewJWTStrategy(verifier crypto.JWKSVerifier, logger *slog.Logger) *JWTStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTStrategy{verifier: verifier, logger: logger}
}

func (s *JWTStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	authHeader := payload.GetHeader("Authorization")
	if authHeader == "" {
		return nil, errNoCredentials
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, errors.New("invalid authorization header format")
	}

	claims, err := s.verifier.VerifyToken(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "JWT verification failed", "error", err, "ip", payload.remoteHost())
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	ctx = contextx.WithAuthPrincipalID(ctx, claims.Subject)
	ctx = contextx.WithAuthPrincipalType(ctx, claims.GetActorType())
	ctx = contextx.WithAuthRoles(ctx, claims.GetRoles())
	if claims.ID != "" {
		ctx = contextx.WithAuthSessionID(ctx, claims.ID)
	}
	if claims.OrgID != "" {
		ctx = contextx.WithOrganizationID(ctx, claims.OrgID)
	}
	return ctx, nil
}

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/SaurabhJain708/formbricks/crypto"
	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

const APIKeyHeader = "X-Api-Key"

// OperatorKey is a configured machine credential. Hash is a bcrypt hash of
// the secret half of the key.
type OperatorKey struct {
	ID    string
	Hash  string
	Roles []string
}

// APIKeyStrategy authenticates "<id>.<secret>" keys against stored hashes.
type APIKeyStrategy struct {
	keys   map[string]OperatorKey
	logger *slog.Logger
}

func NewAPIKeyStrategy(keys []OperatorKey, logger *slog.Logger) *APIKeyStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]OperatorKey, len(keys))
	for _, k := range keys {
		byID[k.ID] = k
	}
	return &APIKeyStrategy{keys: byID, logger: logger}
}

// ParseOperatorKeys reads "id:bcrypthash:role1|role2" entries.
func ParseOperatorKeys(entries []string) ([]OperatorKey, error) {
	out := make([]OperatorKey, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.New("operator key must be id:hash[:roles]")
		}
		k := OperatorKey{ID: parts[0], Hash: parts[1]}
		if len(parts) == 3 && parts[2] != "" {
			k.Roles = strings.Split(parts[2], "|")
		}
		out = append(out, k)
	}
	return out, nil
}

func (s *APIKeyStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	raw := payload.GetHeader(APIKeyHeader)
	if raw == "" {
		return nil, errNoCredentials
	}

	id, secret, ok := strings.Cut(raw, ".")
	key, found := s.keys[id]
	if !ok || !found || !crypto.CheckSecret(key.Hash, secret) {
		s.logger.WarnContext(ctx, "API key rejected", "key_id", id, "ip", payload.remoteHost())
		return nil, errors.New("invalid api key")
	}

	ctx = contextx.WithAuthPrincipalID(ctx, key.ID)
	ctx = contextx.WithAuthPrincipalType(ctx, "api")
	ctx = contextx.WithAuthRoles(ctx, key.Roles)
	return ctx, nil
}

package feature

import (
	"context"
	"os"
	"strings"
)

// FlagCaptureIP switches audit entries from the placeholder address to the
// caller's real IP.
const FlagCaptureIP = "audit-capture-ip"

// Provider resolves a flag. known is false when the provider has no opinion.
type Provider interface {
	Lookup(ctx context.Context, key string) (enabled, known bool)
}

// Manager asks its providers in order; the first that knows a flag decides.
// Unknown flags are off.
type Manager struct {
	providers []Provider
}

func NewManager(providers ...Provider) *Manager {
	return &Manager{providers: providers}
}

func (m *Manager) IsEnabled(ctx context.Context, key string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.providers {
		if enabled, known := p.Lookup(ctx, key); known {
			return enabled
		}
	}
	return false
}

// EnvProvider reads FEATURE_<KEY>, e.g. FEATURE_AUDIT_CAPTURE_IP=true.
type EnvProvider struct{}

func (EnvProvider) Lookup(_ context.Context, key string) (bool, bool) {
	val, ok := os.LookupEnv("FEATURE_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
	if !ok {
		return false, false
	}
	return strings.EqualFold(val, "true") || val == "1", true
}

// Static is a fixed set of flags, typically from startup configuration.
type Static map[string]bool

func (s Static) Lookup(_ context.Context, key string) (bool, bool) {
	v, ok := s[key]
	return v, ok
}

// FuncProvider adapts a function, e.g. one reading a reloadable policy.
type FuncProvider func(ctx context.Context, key string) (bool, bool)

func (f FuncProvider) Lookup(ctx context.Context, key string) (bool, bool) {
	return f(ctx, key)
}

package config

import (
	"context"
	"log/slog"
	"time"
)

// PolicyEnvPrefix scopes the env vars that pin policy values over the file.
const PolicyEnvPrefix = "AUDIT_POLICY"

// Policy is the operator-tunable part of the audit configuration. It is
// reloaded from a YAML file while the service runs.
type Policy struct {
	// CaptureIP overrides AUDIT_LOG_GET_USER_IP when set.
	CaptureIP *bool `yaml:"captureIp" envconfig:"CAPTURE_IP"`
	// SensitiveFields are redacted in addition to the built-in names.
	SensitiveFields []string `yaml:"sensitiveFields" envconfig:"SENSITIVE_FIELDS" validate:"dive,required,max=128"`
}

// LoadPolicy reads the policy file. AUDIT_POLICY_* variables win over it,
// and a missing file yields the env-only policy.
func LoadPolicy(path string) (Policy, error) {
	p, err := NewLoader[Policy](PolicyEnvPrefix, path).Load()
	if err != nil {
		return Policy{}, err
	}
	return *p, nil
}

// WatchPolicy reloads the policy at path into c whenever the file changes.
// A file that fails to parse or validate keeps the previous policy.
func WatchPolicy(ctx context.Context, path string, interval time.Duration, c *Container[Policy], logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit_policy")

	NewFileWatcher(path, interval, logger).Watch(ctx, func() {
		p, err := LoadPolicy(path)
		if err == nil {
			err = c.Update(p)
		}
		if err != nil {
			logger.ErrorContext(ctx, "audit policy reload rejected, keeping previous", "path", path, "error", err)
			return
		}
		logger.InfoContext(ctx, "audit policy reloaded", "sensitive_fields", len(p.SensitiveFields), "capture_ip_override", p.CaptureIP != nil)
	})
}

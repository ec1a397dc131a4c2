package contextx

import (
	"context"
)

type contextKey string

const (
	AuthPrincipalIDKey   contextKey = "formbricks.auth_principal_id"   // sub
	AuthPrincipalTypeKey contextKey = "formbricks.auth_principal_type" // user | api | system
	AuthRolesKey         contextKey = "formbricks.auth_roles"
	AuthSessionIDKey     contextKey = "formbricks.auth_session_id" // jti
	OrganizationIDKey    contextKey = "formbricks.organization_id"

	TraceIDKey    contextKey = "formbricks.trace_id"
	RequestIDKey  contextKey = "formbricks.request_id"
	EntryPointKey contextKey = "formbricks.entry_point" // http | grpc | consumer | cron

	ClientIPKey contextKey = "formbricks.client_ip"
	APIURLKey   contextKey = "formbricks.api_url"

	IdempotencyKey  contextKey = "formbricks.idempotency_key"
	RetryAttemptKey contextKey = "formbricks.retry_attempt"
	AuditReasonKey  contextKey = "formbricks.audit_reason"
	ChangeTicketKey contextKey = "formbricks.change_ticket"
)

func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey, "untriaged") }
func WithTraceID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, TraceIDKey, v)
}

func GetRequestID(ctx context.Context) string { return getString(ctx, RequestIDKey, "") }
func WithRequestID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, RequestIDKey, v)
}

func GetEntryPoint(ctx context.Context) string { return getString(ctx, EntryPointKey, "unknown") }
func WithEntryPoint(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, EntryPointKey, v)
}

func GetAuthPrincipalID(ctx context.Context) string { return getString(ctx, AuthPrincipalIDKey, "") }
func WithAuthPrincipalID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuthPrincipalIDKey, v)
}

func GetAuthPrincipalType(ctx context.Context) string {
	return getString(ctx, AuthPrincipalTypeKey, "")
}
func WithAuthPrincipalType(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuthPrincipalTypeKey, v)
}

func GetAuthRoles(ctx context.Context) []string { return getStringSlice(ctx, AuthRolesKey) }
func WithAuthRoles(ctx context.Context, v []string) context.Context {
	return context.WithValue(ctx, AuthRolesKey, v)
}

// HasRole reports whether the authenticated principal carries role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range GetAuthRoles(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

func GetAuthSessionID(ctx context.Context) string { return getString(ctx, AuthSessionIDKey, "") }
func WithAuthSessionID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuthSessionIDKey, v)
}

func GetOrganizationID(ctx context.Context) string { return getString(ctx, OrganizationIDKey, "") }
func WithOrganizationID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, v)
}

func GetClientIP(ctx context.Context) string { return getString(ctx, ClientIPKey, "") }
func WithClientIP(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, ClientIPKey, v)
}

func GetAPIURL(ctx context.Context) string { return getString(ctx, APIURLKey, "") }
func WithAPIURL(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, APIURLKey, v)
}

func GetIdempotencyKey(ctx context.Context) string { return getString(ctx, IdempotencyKey, "") }
func WithIdempotencyKey(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, IdempotencyKey, v)
}

func GetRetryAttempt(ctx context.Context) int { return getInt(ctx, RetryAttemptKey, 0) }
func WithRetryAttempt(ctx context.Context, v int) context.Context {
	return context.WithValue(ctx, RetryAttemptKey, v)
}

func GetAuditReason(ctx context.Context) string { return getString(ctx, AuditReasonKey, "") }
func WithAuditReason(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuditReasonKey, v)
}

func GetChangeTicket(ctx context.Context) string { return getString(ctx, ChangeTicketKey, "") }
func WithChangeTicket(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, ChangeTicketKey, v)
}

func getString(ctx context.Context, key contextKey, fallback string) string {
	if ctx == nil {
		return fallback
	}
	if val, ok := ctx.Value(key).(string); ok {
		return val
	}
	return fallback
}

func getInt(ctx context.Context, key contextKey, fallback int) int {
	if ctx == nil {
		return fallback
	}
	if val, ok := ctx.Value(key).(int); ok {
		return val
	}
	return fallback
}

func getStringSlice(ctx context.Context, key contextKey) []string {
	if ctx == nil {
		return nil
	}
	if val, ok := ctx.Value(key).([]string); ok {
		return val
	}
	return nil
}

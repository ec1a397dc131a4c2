package audit

import "strings"

// RedactedMarker replaces every sensitive value before hashing and storage.
const RedactedMarker = "********"

// DefaultSensitiveFields is the baseline redaction set. Matching is
// case-insensitive on the exact field name.
var DefaultSensitiveFields = []string{
	"email",
	"password",
	"token",
	"secret",
	"key",
	"apiKey",
	"hashedKey",
	"accessToken",
	"access_token",
	"refreshToken",
	"refresh_token",
	"idToken",
	"id_token",
	"twoFactorSecret",
	"backupCodes",
	"session_state",
	"providerAccountId",
}

// Redactor masks sensitive fields in a Changes mapping. It is immutable and
// safe for concurrent use.
type Redactor struct {
	fields map[string]struct{}
}

// NewRedactor builds a redactor over DefaultSensitiveFields plus extra names.
func NewRedactor(extra ...string) *Redactor {
	r := &Redactor{fields: make(map[string]struct{}, len(DefaultSensitiveFields)+len(extra))}
	for _, f := range DefaultSensitiveFields {
		r.fields[strings.ToLower(f)] = struct{}{}
	}
	for _, f := range extra {
		if f = strings.TrimSpace(f); f != "" {
			r.fields[strings.ToLower(f)] = struct{}{}
		}
	}
	return r
}

// IsSensitive reports whether a field name is in the redaction set.
func (r *Redactor) IsSensitive(name string) bool {
	_, ok := r.fields[strings.ToLower(name)]
	return ok
}

// Redact returns a new mapping with sensitive values replaced by RedactedMarker.
// Key order is preserved. Nested objects and arrays are walked as well.
func (r *Redactor) Redact(c Changes) Changes {
	out := make(Changes, 0, len(c))
	for _, f := range c {
		if r.IsSensitive(f.Name) {
			out = append(out, Field{Name: f.Name, Value: RedactedMarker})
			continue
		}
		out = append(out, Field{Name: f.Name, Value: r.redactValue(f.Value)})
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			if r.IsSensitive(k) {
				m[k] = RedactedMarker
			} else {
				m[k] = r.redactValue(val)
			}
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = r.redactValue(val)
		}
		return s
	case Changes:
		return r.Redact(t)
	default:
		return v
	}
}

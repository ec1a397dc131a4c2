package middleware

import (
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

const (
	TraceHeader   = "X-Trace-Id"
	RequestHeader = "X-Request-Id"
)

// TraceIDMiddleware propagates or mints trace and request ids. An active
// OpenTelemetry span wins over a generated trace id.
func TraceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				traceID = sc.TraceID().String()
			} else {
				uid := uuid.New()
				traceID = hex.EncodeToString(uid[:])
			}
		}

		reqID := r.Header.Get(RequestHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		w.Header().Set(TraceHeader, traceID)
		w.Header().Set(RequestHeader, reqID)

		ctx := contextx.WithTraceID(r.Context(), traceID)
		ctx = contextx.WithRequestID(ctx, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

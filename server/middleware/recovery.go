package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/SaurabhJain708/formbricks/http/response"
)

// PanicRecovery turns a handler panic into a 500. The process stays up.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.ErrorContext(r.Context(), "HTTP PANIC RECOVERED",
					"error", fmt.Sprintf("%v", rec),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				// The stack stays in the log.
				response.Fail(w, r, response.ErrSystem, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

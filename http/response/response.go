package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/SaurabhJain708/formbricks/pkg/contextx"
)

type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Meta    Meta   `json:"meta"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, r, status, Envelope{
		Success: true,
		Data:    data,
		Meta:    metaOf(r),
	})
}

func ErrorJSON(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, r, status, Envelope{
		Success: false,
		Error:   &Error{Code: code, Message: message},
		Meta:    metaOf(r),
	})
}

// Fail writes an error envelope with the status mapped from code.
func Fail(w http.ResponseWriter, r *http.Request, code, message string) {
	ErrorJSON(w, r, MapStatus(code), code, message)
}

func write(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// The header is gone already; nothing left to tell the client.
		slog.WarnContext(r.Context(), "response: encode failed", "error", err)
	}
}

func metaOf(r *http.Request) Meta {
	return Meta{TraceID: getTraceID(r), RequestID: contextx.GetRequestID(r.Context())}
}

func getTraceID(r *http.Request) string {
	if tid := contextx.GetTraceID(r.Context()); tid != "untriaged" {
		return tid
	}
	if tid := r.Header.Get("X-Trace-Id"); tid != "" {
		return tid
	}
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

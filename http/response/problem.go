package response

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

func (p *Problem) Render(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// ProblemType is the type URI published for an error code.
func ProblemType(code string) string {
	if code == "" {
		return "about:blank"
	}
	return "urn:formbricks:problem:" + strings.ToLower(code)
}

func ErrorProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string, errors any) {
	CodedProblem(w, r, "", status, title, detail, errors)
}

// CodedProblem renders a problem whose type is derived from code.
func CodedProblem(w http.ResponseWriter, r *http.Request, code string, status int, title, detail string, errors any) {
	prob := &Problem{
		Type:     ProblemType(code),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Code:     code,
		TraceID:  getTraceID(r),
		Errors:   errors,
	}
	prob.Render(w)
}

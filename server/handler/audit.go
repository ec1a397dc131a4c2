package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SaurabhJain708/formbricks/audit"
	"github.com/SaurabhJain708/formbricks/database"
	"github.com/SaurabhJain708/formbricks/http/response"
	"github.com/SaurabhJain708/formbricks/pkg/contextx"
	"github.com/SaurabhJain708/formbricks/server/middleware"
)

const (
	RoleAuditRead  = "audit:read"
	RoleAuditAdmin = "audit:admin"

	ChangeTicketHeader = "X-Change-Ticket"

	defaultEntriesLimit = 100
	maxEntriesLimit     = 1000
	maxResetBody        = 64 << 10
)

// AuditHandler exposes chain inspection and reset to operators.
type AuditHandler struct {
	recorder *audit.Recorder
	verifier *audit.Verifier
	reader   audit.Reader
	heads    audit.HeadTracker
	logger   *slog.Logger
}

func NewAuditHandler(rec *audit.Recorder, verifier *audit.Verifier, reader audit.Reader, heads audit.HeadTracker, logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{
		recorder: rec,
		verifier: verifier,
		reader:   reader,
		heads:    heads,
		logger:   logger.With("component", "audit_api"),
	}
}

// Routes mounts the chain endpoints. Authentication runs before this; the
// reset route is wrapped by idempotency.
func (h *AuditHandler) Routes(r chi.Router, idempotency func(http.Handler) http.Handler) {
	r.Route("/v1/audit/chains/{chainID}", func(r chi.Router) {
		r.Use(h.scopeToOrganization)
		r.With(middleware.RequireRole(RoleAuditRead, RoleAuditAdmin)).Get("/entries", h.ListEntries)
		r.With(middleware.RequireRole(RoleAuditRead, RoleAuditAdmin)).Get("/verify", h.Verify)

		reset := r.With(middleware.RequireRole(RoleAuditAdmin))
		if idempotency != nil {
			reset = reset.With(idempotency)
		}
		reset.Post("/reset", h.Reset)
	})
}

// scopeToOrganization rejects principals bound to a different organization.
// Principals without one (platform operators) may read any chain.
func (h *AuditHandler) scopeToOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := contextx.GetOrganizationID(r.Context())
		if org != "" && org != chi.URLParam(r, "chainID") {
			problem(w, r, response.ErrForbidden, "principal is bound to another organization")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type entriesPage struct {
	Entries []audit.Entry `json:"entries"`
	Next    *uint64       `json:"next,omitempty"`
}

func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	after, err := parseUint(r.URL.Query().Get("after"), 0)
	if err != nil {
		problem(w, r, response.ErrInvalidFormat, "after must be a non-negative integer")
		return
	}
	limit, err := parseUint(r.URL.Query().Get("limit"), defaultEntriesLimit)
	if err != nil || limit == 0 || limit > maxEntriesLimit {
		problem(w, r, response.ErrInvalidFormat, "limit must be between 1 and "+strconv.Itoa(maxEntriesLimit))
		return
	}

	entries, err := h.reader.ReadChain(r.Context(), chainID, after, int(limit))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page := entriesPage{Entries: entries}
	if page.Entries == nil {
		page.Entries = []audit.Entry{}
	}
	if uint64(len(entries)) == limit {
		next := entries[len(entries)-1].Sequence
		page.Next = &next
	}
	response.JSON(w, r, http.StatusOK, page)
}

type verifyReport struct {
	ChainID string                   `json:"chainId"`
	Result  audit.VerificationResult `json:"result"`
	Head    audit.HeadStatus         `json:"head"`
}

func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	result, err := h.verifier.VerifyChain(r.Context(), h.reader, chainID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	head, err := h.verifier.CheckHead(r.Context(), h.heads, h.reader, chainID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, verifyReport{ChainID: chainID, Result: result, Head: head})
}

type resetBody struct {
	Reason       string `json:"reason"`
	ChangeTicket string `json:"changeTicket"`
	ExpectedHash string `json:"expectedHash"`
}

func (h *AuditHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chainID := chi.URLParam(r, "chainID")

	var body resetBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResetBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		problem(w, r, response.ErrInvalidFormat, "invalid request body")
		return
	}

	if ticket := r.Header.Get(ChangeTicketHeader); ticket != "" {
		ctx = contextx.WithChangeTicket(ctx, ticket)
	}
	ctx = contextx.WithAuditReason(ctx, body.Reason)

	actorType := audit.ActorType(contextx.GetAuthPrincipalType(ctx))
	if actorType == "" {
		actorType = audit.ActorUser
	}

	entry, err := h.recorder.ResetChain(ctx, audit.ResetRequest{
		Actor:          audit.Actor{ID: contextx.GetAuthPrincipalID(ctx), Type: actorType},
		OrganizationID: chainID,
		Reason:         body.Reason,
		ChangeTicket:   body.ChangeTicket,
		ExpectedHash:   body.ExpectedHash,
	})
	if err != nil {
		if !errors.Is(err, audit.ErrRecordDelivery) || entry.IntegrityHash == "" {
			h.fail(w, r, err)
			return
		}
		// Stored and chained; only the sink missed it.
		h.logger.WarnContext(ctx, "chain reset stored but not emitted", "chain_id", chainID, "error", err)
	}

	response.JSON(w, r, http.StatusCreated, entry)
}

func (h *AuditHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	if response.MapStatus(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "audit api request failed", "path", r.URL.Path, "error", err)
	}
	detail := err.Error()
	if code == response.ErrSystem || code == response.ErrChainCorrupt {
		detail = "see service logs for trace " + contextx.GetTraceID(r.Context())
	}
	problem(w, r, code, detail)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, audit.ErrInvalidEvent):
		return response.ErrValidation
	case errors.Is(err, audit.ErrChainConflict):
		return response.ErrChainConflict
	case errors.Is(err, audit.ErrDisabled):
		return response.ErrAuditDisabled
	case errors.Is(err, audit.ErrChainCorruption):
		return response.ErrChainCorrupt
	case errors.Is(err, audit.ErrRecordDelivery):
		return response.ErrServiceUnavail
	default:
		return database.Code(err)
	}
}

func problem(w http.ResponseWriter, r *http.Request, code, detail string) {
	status := response.MapStatus(code)
	response.CodedProblem(w, r, code, status, http.StatusText(status), detail, nil)
}

func parseUint(raw string, fallback uint64) (uint64, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

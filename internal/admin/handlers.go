// ABOUTME: HTTP handlers for extension registration, registration management, and the audit log
// ABOUTME: Translates lifecycle Results to status codes and JSON bodies

package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/gamevault/internal/auth"
	"github.com/2389/gamevault/internal/registration"
	"github.com/2389/gamevault/internal/store"
)

// maxRegistrationBody caps the size of an unauthenticated registration request.
const maxRegistrationBody = 64 << 10

// ServerSigner signs response bodies with the server key.
type ServerSigner interface {
	Sign(ctx context.Context, data []byte) (string, error)
	PublicKey(ctx context.Context) (string, error)
}

// AuditReader lists audit entries.
type AuditReader interface {
	ListAuditLog(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error)
}

// Handlers serves the registration and audit API.
type Handlers struct {
	registrations *RegistrationService
	audit         AuditReader
	signer        ServerSigner
	logger        *slog.Logger
}

// NewHandlers creates the registration and audit HTTP handlers.
func NewHandlers(registrations *RegistrationService, audit AuditReader, signer ServerSigner, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handlers{
		registrations: registrations,
		audit:         audit,
		signer:        signer,
		logger:        logger.With("component", "admin-api"),
	}
}

// Register mounts the routes on mux. extensionAuth guards extension calls
// and instanceAuth guards operator calls.
func (h *Handlers) Register(mux *http.ServeMux, extensionAuth, instanceAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /api/extension/registrations", h.handleRequestRegistration)
	mux.HandleFunc("GET /api/extension/server-key", h.handleServerKey)
	mux.Handle("GET /api/extension/status", extensionAuth(http.HandlerFunc(h.handleExtensionStatus)))

	mux.Handle("GET /api/extension/registrations", instanceAuth(http.HandlerFunc(h.handleListRegistrations)))
	mux.Handle("GET /api/extension/registrations/{id}", instanceAuth(http.HandlerFunc(h.handleGetRegistration)))
	mux.Handle("POST /api/extension/registrations/{id}/approve", instanceAuth(h.transitionHandler(h.registrations.Approve)))
	mux.Handle("POST /api/extension/registrations/{id}/reject", instanceAuth(h.transitionHandler(h.registrations.Reject)))
	mux.Handle("POST /api/extension/registrations/{id}/revoke", instanceAuth(h.transitionHandler(h.registrations.Revoke)))
	mux.Handle("DELETE /api/extension/registrations/{id}", instanceAuth(http.HandlerFunc(h.handleRemoveRegistration)))
	mux.Handle("GET /api/audit", instanceAuth(http.HandlerFunc(h.handleListAudit)))
}

// RegistrationResponse is the JSON shape of a registration.
type RegistrationResponse struct {
	ID               int64   `json:"id"`
	ExtensionID      string  `json:"extension_id"`
	PublicKey        string  `json:"public_key"`
	Hostname         *string `json:"hostname"`
	OS               *string `json:"os"`
	ExtensionVersion *string `json:"extension_version"`
	Status           string  `json:"status"`
	CreatedAt        string  `json:"created_at"`
	LastUpdatedAt    string  `json:"last_updated_at"`
}

func toRegistrationResponse(reg *registration.Registration) RegistrationResponse {
	return RegistrationResponse{
		ID:               reg.MustID(),
		ExtensionID:      reg.ExtensionID(),
		PublicKey:        reg.PublicKey(),
		Hostname:         reg.Hostname(),
		OS:               reg.OS(),
		ExtensionVersion: reg.ExtensionVersion(),
		Status:           string(reg.Status()),
		CreatedAt:        reg.CreatedAt().Format(time.RFC3339),
		LastUpdatedAt:    reg.LastUpdatedAt().Format(time.RFC3339),
	}
}

// CommandResponse is the JSON body returned by lifecycle commands.
type CommandResponse struct {
	Success      bool                  `json:"success"`
	ReasonCode   string                `json:"reason_code,omitempty"`
	Message      string                `json:"message,omitempty"`
	Registration *RegistrationResponse `json:"registration,omitempty"`
}

func toCommandResponse(res Result) CommandResponse {
	out := CommandResponse{
		Success:    res.Success,
		ReasonCode: string(res.ReasonCode),
		Message:    res.Message,
	}
	if res.Registration != nil {
		r := toRegistrationResponse(res.Registration)
		out.Registration = &r
	}
	return out
}

func statusForResult(res Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ReasonCode {
	case ReasonNotFound:
		return http.StatusNotFound
	case ReasonInvalidOperation:
		return http.StatusConflict
	case ReasonInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RegistrationRequest is the body of POST /api/extension/registrations.
type RegistrationRequest struct {
	ExtensionID      string  `json:"extensionId"`
	PublicKey        string  `json:"publicKey"`
	Hostname         *string `json:"hostname,omitempty"`
	OS               *string `json:"os,omitempty"`
	ExtensionVersion *string `json:"extensionVersion,omitempty"`
}

// handleRequestRegistration handles POST /api/extension/registrations.
// The response body is signed with the server key in X-Signature.
func (h *Handlers) handleRequestRegistration(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res := h.registrations.Request(r.Context(), RequestParams{
		ExtensionID:      req.ExtensionID,
		PublicKey:        req.PublicKey,
		Hostname:         req.Hostname,
		OS:               req.OS,
		ExtensionVersion: req.ExtensionVersion,
	})

	status := statusForResult(res)
	if res.Success && !res.Existing {
		status = http.StatusCreated
	}

	body, err := json.Marshal(toCommandResponse(res))
	if err != nil {
		h.logger.Error("failed to encode registration response", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sig, err := h.signer.Sign(r.Context(), body)
	if err != nil {
		h.logger.Error("failed to sign registration response", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(auth.HeaderSignature, sig)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// handleServerKey handles GET /api/extension/server-key.
func (h *Handlers) handleServerKey(w http.ResponseWriter, r *http.Request) {
	pub, err := h.signer.PublicKey(r.Context())
	if err != nil {
		h.logger.Error("failed to load server public key", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": pub})
}

// handleExtensionStatus handles GET /api/extension/status for a verified extension.
func (h *Handlers) handleExtensionStatus(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"registration_id": authCtx.RegistrationID,
		"extension_id":    authCtx.ExtensionID,
		"status":          string(registration.StatusTrusted),
	})
}

// handleListRegistrations handles GET /api/extension/registrations[?status=].
func (h *Handlers) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	var filter *registration.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := registration.ParseStatus(raw)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "status must be pending, trusted, or rejected")
			return
		}
		filter = &st
	}

	regs, err := h.registrations.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list registrations", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]RegistrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toRegistrationResponse(reg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": out})
}

// handleGetRegistration handles GET /api/extension/registrations/{id}.
func (h *Handlers) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res := h.registrations.Get(r.Context(), id)
	writeJSON(w, statusForResult(res), toCommandResponse(res))
}

// transitionHandler serves approve, reject, and revoke.
func (h *Handlers) transitionHandler(command func(context.Context, int64) Result) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		res := command(r.Context(), id)
		writeJSON(w, statusForResult(res), toCommandResponse(res))
	})
}

// handleRemoveRegistration handles DELETE /api/extension/registrations/{id}.
func (h *Handlers) handleRemoveRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res := h.registrations.Remove(r.Context(), id)
	writeJSON(w, statusForResult(res), toCommandResponse(res))
}

// AuditEntryResponse is the JSON shape of an audit entry.
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Timestamp  string         `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// handleListAudit handles GET /api/audit with optional action, target_type,
// target_id, since (RFC3339), and limit query parameters.
func (h *Handlers) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.AuditFilter

	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		if !action.Valid() {
			sendJSONError(w, http.StatusBadRequest, "unknown action")
			return
		}
		filter.Action = &action
	}
	if v := q.Get("target_type"); v != "" {
		filter.TargetType = &v
	}
	if v := q.Get("target_id"); v != "" {
		filter.TargetID = &v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = &since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.audit.ListAuditLog(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list audit log", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:         e.ID,
			Actor:      e.Actor,
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Timestamp:  e.Timestamp.Format(time.RFC3339),
			Detail:     e.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// pathID parses the {id} path value, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		sendJSONError(w, http.StatusBadRequest, "registration id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

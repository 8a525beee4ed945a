// ABOUTME: HTTP handlers for operator setup, login, logout, and password change
// ABOUTME: Wrong passwords are charged to the operator lockout budget

package instance

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/gamevault/internal/auth"
)

const maxCredentialBody = 4 << 10

// Handlers serves the /api/instance routes.
type Handlers struct {
	svc     *Service
	lockout auth.FailureLimiter
	logger  *slog.Logger
}

// NewHandlers creates the instance HTTP handlers. lockout may be nil.
func NewHandlers(svc *Service, lockout auth.FailureLimiter, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handlers{svc: svc, lockout: lockout, logger: logger.With("component", "instance-api")}
}

// Register mounts the routes on mux. instanceAuth guards logout and password change.
func (h *Handlers) Register(mux *http.ServeMux, instanceAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/instance/status", h.handleStatus)
	mux.HandleFunc("POST /api/instance/setup", h.handleSetup)
	mux.HandleFunc("POST /api/instance/login", h.handleLogin)
	mux.Handle("POST /api/instance/logout", instanceAuth(http.HandlerFunc(h.handleLogout)))
	mux.Handle("POST /api/instance/password", instanceAuth(http.HandlerFunc(h.handleChangePassword)))
}

type passwordRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.IsSetUp(r.Context())
	if err != nil {
		h.logger.Error("failed to read instance status", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"registered": ok})
}

func (h *Handlers) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.svc.Setup(r.Context(), req.Password)
	switch {
	case errors.Is(err, ErrWeakPassword):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadySetUp):
		sendJSONError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("instance setup failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusCreated, map[string]bool{"registered": true})
	}
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.lockout != nil && h.lockout.Locked(auth.LockoutKey(auth.ActorInstance, r)) {
		h.logger.Warn("login refused: client locked", "peer_addr", r.RemoteAddr)
		sendJSONError(w, http.StatusTooManyRequests, auth.ReasonLocked)
		return
	}

	var req passwordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.svc.Login(r.Context(), req.Password)
	switch {
	case errors.Is(err, ErrNotSetUp):
		sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidPassword):
		sendJSONError(w, h.wrongPassword(r), err.Error())
	case err != nil:
		h.logger.Error("login failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
	}
}

// wrongPassword charges a failed password check and picks the response status.
func (h *Handlers) wrongPassword(r *http.Request) int {
	if h.lockout != nil && h.lockout.Fail(auth.LockoutKey(auth.ActorInstance, r)) {
		return http.StatusTooManyRequests
	}
	return http.StatusUnauthorized
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	if err := h.svc.Logout(r.Context(), authCtx.SessionID); err != nil {
		h.logger.Error("logout failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.svc.ChangePassword(r.Context(), req.OldPassword, req.NewPassword)
	switch {
	case errors.Is(err, ErrWeakPassword):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidPassword):
		sendJSONError(w, h.wrongPassword(r), err.Error())
	case errors.Is(err, ErrNotSetUp):
		sendJSONError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("password change failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCredentialBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

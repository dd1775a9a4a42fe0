package identity

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
)

// Handler exposes the engine to the presentation layer.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

// SessionResponse describes the engine state and, when authenticated, the
// current identity.
type SessionResponse struct {
	State    string           `json:"state"`
	Identity *entity.Identity `json:"identity,omitempty"`
	IsAdmin  bool             `json:"is_admin"`
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session())
}

func (h *Handler) session() SessionResponse {
	resp := SessionResponse{State: h.svc.State().String()}
	if id, ok := h.svc.Current(); ok {
		resp.Identity = &id
		resp.IsAdmin = id.Role == entity.RoleAdmin
	}
	return resp
}

// LoginRequest login payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the credential token alongside the identity.
type LoginResponse struct {
	Identity entity.Identity `json:"identity"`
	Token    string          `json:"token"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	id, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.logger.Debugw("login failed", "err", err)
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		default:
			h.logger.Warnw("login failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{Identity: id, Token: id.Token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.svc.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var p entity.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.logger.Debugw("invalid profile payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	id, err := h.svc.UpdateProfile(r.Context(), p)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotAuthenticated):
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		default:
			h.logger.Warnw("profile update failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "profile update failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, id)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

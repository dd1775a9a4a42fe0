package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	identity "github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
)

// Handler exposes registration and the admin listing of local accounts.
type Handler struct {
	svc     *Service
	isAdmin func() bool
	logger  *zap.SugaredLogger
}

// NewHandler wires the handler. isAdmin gates the listing endpoint.
func NewHandler(svc *Service, isAdmin func() bool, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if isAdmin == nil {
		isAdmin = func() bool { return false }
	}
	return &Handler{svc: svc, isAdmin: isAdmin, logger: logger}
}

// RegisterRequest request body for registration.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Image     string `json:"image"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	rec, err := h.svc.Register(r.Context(), RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Profile: identity.Profile{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Image:     req.Image,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameRequired), errors.Is(err, ErrPasswordRequired):
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrUsernameTaken):
			h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			h.logger.Warnw("register failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "register failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, rec.Public())
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin() {
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}
	views, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Warnw("list registry failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

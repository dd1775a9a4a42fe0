package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/cart/entity"
)

// Handler exposes the active partition's cart and wishlist.
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

func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.View())
}

// AddItemRequest adds quantity units of a product; quantity defaults to 1.
type AddItemRequest struct {
	Product  entity.Product `json:"product"`
	Quantity *int           `json:"quantity"`
	Variant  entity.Variant `json:"variant"`
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid add item payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	line, err := h.svc.AddItem(r.Context(), req.Product, qty, req.Variant)
	if err != nil {
		h.fail(w, "add item", err)
		return
	}
	h.writeJSON(w, http.StatusOK, line)
}

// SetQuantityRequest body for PATCH on a line.
type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid quantity payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if err := h.svc.SetQuantity(r.Context(), chi.URLParam(r, "lineID"), req.Quantity); err != nil {
		h.fail(w, "set quantity", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.View())
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveItem(r.Context(), chi.URLParam(r, "lineID")); err != nil {
		h.fail(w, "remove item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		h.fail(w, "clear cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Wishlist(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.View().Wishlist)
}

// ToggleResponse reports membership after a toggle.
type ToggleResponse struct {
	ProductID  string `json:"product_id"`
	InWishlist bool   `json:"in_wishlist"`
}

func (h *Handler) ToggleWishlist(w http.ResponseWriter, r *http.Request) {
	var p entity.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.logger.Debugw("invalid wishlist payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	in, err := h.svc.ToggleWishlist(r.Context(), p)
	if err != nil {
		h.fail(w, "toggle wishlist", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ToggleResponse{ProductID: p.ID, InWishlist: in})
}

func (h *Handler) ClearWishlist(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearWishlist(r.Context()); err != nil {
		h.fail(w, "clear wishlist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrProductRequired):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.logger.Warnw(op+" failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

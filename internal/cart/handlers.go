package cart

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/common"
)

// Handler exposes HTTP endpoints for carts.
type Handler struct {
	Svc *Service
}

type createReq struct {
	SessionID string `json:"sessionId"`
}

// Create loads or creates the open cart for a session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	c, err := h.Svc.Ensure(r.Context(), req.SessionID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "CART_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Get returns the cart view.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cartID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.Svc.Get(r.Context(), cartID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "CART_NOT_FOUND", "cart not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "CART_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

type addItemReq struct {
	ProductID string `json:"productId"`
	Qty       int32  `json:"qty"`
}

// AddItem adds a product to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req addItemReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	productID, err := uuid.Parse(strings.TrimSpace(req.ProductID))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid productId", nil)
		return
	}
	if req.Qty == 0 {
		req.Qty = 1
	}
	if err := h.Svc.AddItem(r.Context(), cartID, productID, req.Qty); err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type updateItemReq struct {
	Qty int32 `json:"qty"`
}

// UpdateItem sets the quantity of a line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := parseID(w, r, "itemId")
	if !ok {
		return
	}
	var req updateItemReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := h.Svc.UpdateQty(r.Context(), cartID, itemID, req.Qty); err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// RemoveItem deletes a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := parseID(w, r, "itemId")
	if !ok {
		return
	}
	if err := h.Svc.RemoveItem(r.Context(), cartID, itemID); err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid "+param, nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func writeCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "CART_NOT_FOUND", "cart or item not found", nil)
	case errors.Is(err, ErrCompleted):
		common.JSONError(w, http.StatusConflict, "CART_COMPLETED", "cart is completed", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "CART_ERROR", err.Error(), nil)
	}
}

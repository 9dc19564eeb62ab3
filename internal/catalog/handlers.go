package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/obs"
)

// Handler exposes HTTP endpoints for the catalog.
type Handler struct {
	Svc *Service
}

// Categories lists all categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Svc.Categories(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "CATALOG_ERROR", err.Error(), nil)
		return
	}
	if cats == nil {
		cats = []Category{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": cats})
}

// Products lists active products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.Svc.Products(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "CATALOG_ERROR", err.Error(), nil)
		return
	}
	if products == nil {
		products = []Product{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": products})
}

// ProductDetail returns one product.
func (h *Handler) ProductDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	product, err := h.Svc.Product(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "CATALOG_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": product})
}

type adjustStockReq struct {
	Delta  int32  `json:"delta"`
	Reason string `json:"reason"`
}

// AdjustStock applies a stock delta, recording the movement.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	var req adjustStockReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if req.Delta == 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "delta must be non-zero", nil)
		return
	}
	mv, err := h.Svc.AdjustStock(r.Context(), id, req.Delta, strings.TrimSpace(req.Reason))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product not found", nil)
		case errors.Is(err, ErrInsufficientStock):
			common.JSONError(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error(), nil)
		default:
			common.JSONError(w, http.StatusInternalServerError, "CATALOG_ERROR", err.Error(), nil)
		}
		return
	}
	if obs.StockMovementTotal != nil {
		obs.StockMovementTotal.WithLabelValues(mv.Kind).Inc()
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": mv})
}

// Movements lists recent stock movements for a product.
func (h *Handler) Movements(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	limit := int32(50)
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = int32(parsed)
		}
	}
	movements, err := h.Svc.Movements(r.Context(), id, limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "CATALOG_ERROR", err.Error(), nil)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": movements})
}

package checkout

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/obs"
)

var validate = validator.New()

// Handler exposes HTTP endpoints for checkout and sale lookup.
type Handler struct {
	Svc   *Service
	Store *Store
}

type checkoutReq struct {
	CartID        string `json:"cartId" validate:"required,uuid"`
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=cash card mobile"`
	Discount      int64  `json:"discount" validate:"gte=0"`
	Notes         string `json:"notes" validate:"max=500"`
}

// Checkout converts an open cart into a sale.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	cartID, err := uuid.Parse(req.CartID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cartId", nil)
		return
	}
	res, err := h.Svc.Checkout(r.Context(), Input{
		CartID:        cartID,
		PaymentMethod: req.PaymentMethod,
		Discount:      req.Discount,
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		if obs.CheckoutTotal != nil {
			obs.CheckoutTotal.WithLabelValues("error").Inc()
		}
		writeCheckoutError(w, err)
		return
	}
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues("ok").Inc()
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}

// Sale returns one sale with its lines.
func (h *Handler) Sale(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid sale id", nil)
		return
	}
	sale, err := h.Store.GetSale(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "SALE_NOT_FOUND", "sale not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "CHECKOUT_ERROR", err.Error(), nil)
		return
	}
	items, err := h.Store.ListItems(r.Context(), id)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "CHECKOUT_ERROR", err.Error(), nil)
		return
	}
	if items == nil {
		items = []SaleItem{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": Result{Sale: sale, Items: items}})
}

func writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCartNotFound):
		common.JSONError(w, http.StatusNotFound, "CART_NOT_FOUND", "cart not found", nil)
	case errors.Is(err, ErrCartCompleted):
		common.JSONError(w, http.StatusConflict, "CART_COMPLETED", "cart already checked out", nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_CART", "cart has no items", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, catalog.ErrInsufficientStock):
		common.JSONError(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "CHECKOUT_ERROR", err.Error(), nil)
	}
}

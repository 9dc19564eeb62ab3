package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-pos/internal/common"
)

var validate = validator.New()

// Handler exposes HTTP endpoints for payments.
type Handler struct {
	Svc       *Service
	ListLimit int32
}

type pushReq struct {
	Phone       string `json:"phone" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Reference   string `json:"reference" validate:"max=64"`
	Description string `json:"description" validate:"max=64"`
	CartID      string `json:"cartId"`
}

// Push initiates an STK push for the given phone and amount.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	var req pushReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	p, err := h.Svc.Initiate(r.Context(), InitiateInput{
		Phone:         req.Phone,
		Amount:        req.Amount,
		Reference:     strings.TrimSpace(req.Reference),
		Description:   strings.TrimSpace(req.Description),
		CartReference: req.CartID,
	})
	if err != nil {
		writePaymentError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": p})
}

// Callback receives gateway result callbacks. The response is always HTTP
// 200 with a ResultCode body so the gateway treats delivery as complete.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	// the gateway owns this wire format and may add fields, so unknown
	// fields are tolerated here
	var env CallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		common.JSON(w, http.StatusOK, Ack{ResultCode: 1, ResultDesc: "Invalid payload"})
		return
	}
	ack := h.Svc.HandleCallback(r.Context(), env)
	common.JSON(w, http.StatusOK, ack)
}

// Status returns the ledger row for a correlation id.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(chi.URLParam(r, "correlationId"))
	if correlationID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "correlation id required", nil)
		return
	}
	p, err := h.Svc.QueryStatus(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// List returns the newest payments.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := h.ListLimit
	if limit <= 0 {
		limit = 50
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = int32(parsed)
		}
	}
	payments, err := h.Svc.ListRecent(r.Context(), limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_ERROR", err.Error(), nil)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": payments})
}

func writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPhone):
		common.JSONError(w, http.StatusBadRequest, "INVALID_PHONE", "phone number is not a valid MSISDN", nil)
	case errors.Is(err, ErrInvalidAmount):
		common.JSONError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be positive", nil)
	case errors.Is(err, ErrGatewayUnavailable):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "payment gateway unavailable", nil)
	case errors.Is(err, ErrPushDeclined):
		common.JSONError(w, http.StatusUnprocessableEntity, "PUSH_DECLINED", err.Error(), nil)
	case errors.Is(err, ErrDuplicateCorrelation):
		common.JSONError(w, http.StatusConflict, "DUPLICATE_PAYMENT", "payment already recorded", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_ERROR", err.Error(), nil)
	}
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-pos/internal/checkout"
	"github.com/noah-isme/backend-pos/internal/obs"
)

type gateway interface {
	Push(ctx context.Context, phone string, amount int64, reference, description string) (PushResult, error)
}

type ledger interface {
	Create(ctx context.Context, p Payment) (Payment, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (Payment, error)
	ListRecent(ctx context.Context, limit int32) ([]Payment, error)
	MarkResult(ctx context.Context, u ResultUpdate) error
}

type saleLookup interface {
	SaleByCart(ctx context.Context, cartID uuid.UUID) (checkout.Sale, error)
}

type locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service drives the payment lifecycle: it initiates STK pushes, records
// pending ledger rows and reconciles gateway callbacks against them.
type Service struct {
	Gateway gateway
	Ledger  ledger
	Sales   saleLookup
	Locks   locker
	Log     zerolog.Logger
	LockTTL time.Duration

	tracer trace.Tracer
}

// NewService wires the payment service.
func NewService(gw gateway, led ledger, sales saleLookup, locks locker, log zerolog.Logger, lockTTL time.Duration) *Service {
	return &Service{
		Gateway: gw,
		Ledger:  led,
		Sales:   sales,
		Locks:   locks,
		Log:     log,
		LockTTL: lockTTL,
		tracer:  otel.Tracer("payment"),
	}
}

// InitiateInput describes a push request.
type InitiateInput struct {
	Phone         string
	Amount        int64
	Reference     string
	Description   string
	CartReference string
}

// Initiate validates the request, sends the STK push and records the
// pending ledger row. Validation happens before any network call so an
// invalid phone or amount never reaches the gateway.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Initiate")
	defer span.End()

	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		s.countPush("invalid")
		return Payment{}, err
	}
	if in.Amount <= 0 {
		s.countPush("invalid")
		return Payment{}, ErrInvalidAmount
	}

	res, err := s.Gateway.Push(ctx, phone, in.Amount, in.Reference, in.Description)
	if err != nil {
		switch {
		case errors.Is(err, ErrGatewayUnavailable):
			s.countPush("gateway_error")
		case errors.Is(err, ErrPushDeclined):
			s.countPush("declined")
		default:
			s.countPush("error")
		}
		return Payment{}, err
	}
	span.SetAttributes(attribute.String("payment.correlation_id", res.CheckoutRequestID))

	p := Payment{
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		PhoneNumber:       phone,
		RequestedAmount:   in.Amount,
		SaleID:            s.resolveSale(ctx, in.CartReference),
	}
	created, err := s.Ledger.Create(ctx, p)
	if err != nil {
		s.countPush("error")
		return Payment{}, fmt.Errorf("record payment: %w", err)
	}
	s.countPush("accepted")
	s.Log.Info().
		Str("correlation_id", created.CheckoutRequestID).
		Int64("amount", created.RequestedAmount).
		Msg("stk push accepted")
	return created, nil
}

// resolveSale links the payment to a completed sale when the reference is a
// known cart id. A reference that does not resolve is not an error, the
// payment simply stays unlinked.
func (s *Service) resolveSale(ctx context.Context, cartReference string) *uuid.UUID {
	if s.Sales == nil {
		return nil
	}
	cartID, err := uuid.Parse(strings.TrimSpace(cartReference))
	if err != nil {
		return nil
	}
	sale, err := s.Sales.SaleByCart(ctx, cartID)
	if err != nil {
		return nil
	}
	id := sale.ID
	return &id
}

// Ack is the body returned to the gateway for every callback delivery.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// CallbackEnvelope mirrors the gateway's callback wire shape.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback is the inner callback payload.
type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []MetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

// MetadataItem is one name/value pair of callback metadata.
type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// HandleCallback reconciles one callback delivery against the ledger. It
// is safe under replays and concurrent deliveries: a per-correlation-id
// lock serialises handling, and the ledger's pending guard makes the first
// terminal transition the only one. The returned Ack is always sent with
// HTTP 200 so the gateway stops redelivering.
func (s *Service) HandleCallback(ctx context.Context, env CallbackEnvelope) Ack {
	ctx, span := s.tracer.Start(ctx, "payment.HandleCallback")
	defer span.End()

	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		s.countCallback("invalid")
		return Ack{ResultCode: 1, ResultDesc: "Missing CheckoutRequestID"}
	}
	span.SetAttributes(
		attribute.String("payment.correlation_id", cb.CheckoutRequestID),
		attribute.Int("payment.result_code", cb.ResultCode),
	)

	update := ResultUpdate{
		CorrelationID:     cb.CheckoutRequestID,
		Status:            StatusFailed,
		ResultCode:        strconv.Itoa(cb.ResultCode),
		ResultDescription: cb.ResultDesc,
	}
	if cb.ResultCode == 0 {
		update.Status = StatusSuccessful
		applyMetadata(&update, cb.CallbackMetadata.Item)
	}

	var markErr error
	err := s.Locks.WithLock(ctx, "pay:cb:"+cb.CheckoutRequestID, s.LockTTL, func(ctx context.Context) error {
		markErr = s.Ledger.MarkResult(ctx, update)
		return nil
	})
	if err != nil {
		s.countCallback("error")
		s.Log.Error().Err(err).Str("correlation_id", cb.CheckoutRequestID).Msg("callback lock failed")
		return Ack{ResultCode: 1, ResultDesc: "Processing failed"}
	}

	switch {
	case markErr == nil:
		s.countCallback(update.Status)
		s.Log.Info().
			Str("correlation_id", cb.CheckoutRequestID).
			Str("status", update.Status).
			Str("result_code", update.ResultCode).
			Msg("payment reconciled")
		return Ack{ResultCode: 0, ResultDesc: "Accepted"}
	case errors.Is(markErr, ErrAlreadyTerminal):
		s.countCallback("replay")
		s.Log.Debug().Str("correlation_id", cb.CheckoutRequestID).Msg("callback replay ignored")
		return Ack{ResultCode: 0, ResultDesc: "Accepted"}
	case errors.Is(markErr, ErrNotFound):
		s.countCallback("unknown")
		s.Log.Warn().Str("correlation_id", cb.CheckoutRequestID).Msg("callback for unknown payment")
		return Ack{ResultCode: 1, ResultDesc: "Unknown CheckoutRequestID"}
	default:
		s.countCallback("error")
		s.Log.Error().Err(markErr).Str("correlation_id", cb.CheckoutRequestID).Msg("callback processing failed")
		return Ack{ResultCode: 1, ResultDesc: "Processing failed"}
	}
}

// applyMetadata copies receipt, amount and transaction date out of the
// callback metadata. Fields that are absent or malformed stay unset.
func applyMetadata(u *ResultUpdate, items []MetadataItem) {
	for _, it := range items {
		switch it.Name {
		case "MpesaReceiptNumber":
			if v, ok := it.Value.(string); ok && v != "" {
				receipt := v
				u.ReceiptNumber = &receipt
			}
		case "Amount":
			if v, ok := numericValue(it.Value); ok {
				amount := v
				u.ConfirmedAmount = &amount
			}
		case "TransactionDate":
			if v, ok := numericValue(it.Value); ok {
				if ts, err := time.ParseInLocation("20060102150405", strconv.FormatInt(v, 10), time.Local); err == nil {
					u.TransactionDate = &ts
				}
			}
		}
	}
}

func numericValue(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// QueryStatus returns the current ledger row for a correlation id.
func (s *Service) QueryStatus(ctx context.Context, correlationID string) (Payment, error) {
	return s.Ledger.GetByCorrelationID(ctx, correlationID)
}

// ListRecent returns the newest payments.
func (s *Service) ListRecent(ctx context.Context, limit int32) ([]Payment, error) {
	return s.Ledger.ListRecent(ctx, limit)
}

func (s *Service) countPush(result string) {
	if obs.PaymentPushTotal != nil {
		obs.PaymentPushTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countCallback(result string) {
	if obs.PaymentCallbackTotal != nil {
		obs.PaymentCallbackTotal.WithLabelValues(result).Inc()
	}
}

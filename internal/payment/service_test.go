package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/checkout"
)

type fakeGateway struct {
	calls  int
	result PushResult
	err    error

	lastPhone  string
	lastAmount int64
}

func (f *fakeGateway) Push(_ context.Context, phone string, amount int64, _, _ string) (PushResult, error) {
	f.calls++
	f.lastPhone = phone
	f.lastAmount = amount
	if f.err != nil {
		return PushResult{}, f.err
	}
	return f.result, nil
}

// memLedger reproduces the database guard in memory: a row leaves pending
// exactly once and is never rewritten afterwards.
type memLedger struct {
	rows map[string]*Payment
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]*Payment{}}
}

func (m *memLedger) Create(_ context.Context, p Payment) (Payment, error) {
	if _, ok := m.rows[p.CheckoutRequestID]; ok {
		return Payment{}, ErrDuplicateCorrelation
	}
	p.ID = uuid.New()
	p.Status = StatusPending
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	stored := p
	m.rows[p.CheckoutRequestID] = &stored
	return p, nil
}

func (m *memLedger) GetByCorrelationID(_ context.Context, id string) (Payment, error) {
	row, ok := m.rows[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return *row, nil
}

func (m *memLedger) ListRecent(_ context.Context, _ int32) ([]Payment, error) {
	out := make([]Payment, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, *row)
	}
	return out, nil
}

func (m *memLedger) MarkResult(_ context.Context, u ResultUpdate) error {
	row, ok := m.rows[u.CorrelationID]
	if !ok {
		return ErrNotFound
	}
	if row.Status != StatusPending {
		return ErrAlreadyTerminal
	}
	row.Status = u.Status
	row.ConfirmedAmount = u.ConfirmedAmount
	row.ReceiptNumber = u.ReceiptNumber
	row.ResultCode = u.ResultCode
	row.ResultDescription = u.ResultDescription
	row.TransactionDate = u.TransactionDate
	row.UpdatedAt = time.Now()
	return nil
}

type passLock struct{}

func (passLock) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeSales struct {
	sale checkout.Sale
	err  error
}

func (f fakeSales) SaleByCart(_ context.Context, _ uuid.UUID) (checkout.Sale, error) {
	return f.sale, f.err
}

func newTestService(gw *fakeGateway, led ledger) *Service {
	return NewService(gw, led, nil, passLock{}, zerolog.Nop(), time.Second)
}

func successEnvelope(correlationID string, items []MetadataItem) CallbackEnvelope {
	var env CallbackEnvelope
	env.Body.StkCallback = StkCallback{
		MerchantRequestID: "mr-1",
		CheckoutRequestID: correlationID,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
	}
	env.Body.StkCallback.CallbackMetadata.Item = items
	return env
}

func failureEnvelope(correlationID string, code int, desc string) CallbackEnvelope {
	var env CallbackEnvelope
	env.Body.StkCallback = StkCallback{
		CheckoutRequestID: correlationID,
		ResultCode:        code,
		ResultDesc:        desc,
	}
	return env
}

func TestInitiateValidatesBeforeGateway(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(gw, newMemLedger())

	_, err := svc.Initiate(context.Background(), InitiateInput{Phone: "12345", Amount: 500})
	require.ErrorIs(t, err, ErrInvalidPhone)

	_, err = svc.Initiate(context.Background(), InitiateInput{Phone: "0712345678", Amount: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)

	require.Zero(t, gw.calls)
}

func TestInitiateRecordsPendingRow(t *testing.T) {
	gw := &fakeGateway{result: PushResult{MerchantRequestID: "mr-1", CheckoutRequestID: "ws_1"}}
	led := newMemLedger()
	svc := newTestService(gw, led)

	p, err := svc.Initiate(context.Background(), InitiateInput{Phone: "0712345678", Amount: 500, Reference: "order-9"})
	require.NoError(t, err)
	require.Equal(t, "ws_1", p.CheckoutRequestID)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, "254712345678", gw.lastPhone)
	require.Equal(t, "254712345678", p.PhoneNumber)

	stored, err := led.GetByCorrelationID(context.Background(), "ws_1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
	require.Equal(t, int64(500), stored.RequestedAmount)
}

func TestInitiateLinksCompletedSale(t *testing.T) {
	saleID := uuid.New()
	gw := &fakeGateway{result: PushResult{CheckoutRequestID: "ws_2"}}
	led := newMemLedger()
	svc := NewService(gw, led, fakeSales{sale: checkout.Sale{ID: saleID}}, passLock{}, zerolog.Nop(), time.Second)

	cartID := uuid.NewString()
	_, err := svc.Initiate(context.Background(), InitiateInput{Phone: "0712345678", Amount: 500, CartReference: cartID})
	require.NoError(t, err)

	stored, err := led.GetByCorrelationID(context.Background(), "ws_2")
	require.NoError(t, err)
	require.NotNil(t, stored.SaleID)
	require.Equal(t, saleID, *stored.SaleID)
}

func TestInitiateUnresolvedReferenceStaysUnlinked(t *testing.T) {
	gw := &fakeGateway{result: PushResult{CheckoutRequestID: "ws_3"}}
	led := newMemLedger()
	svc := NewService(gw, led, fakeSales{err: errors.New("no sale")}, passLock{}, zerolog.Nop(), time.Second)

	_, err := svc.Initiate(context.Background(), InitiateInput{Phone: "0712345678", Amount: 500, CartReference: "not-a-uuid"})
	require.NoError(t, err)

	stored, err := led.GetByCorrelationID(context.Background(), "ws_3")
	require.NoError(t, err)
	require.Nil(t, stored.SaleID)
}

func TestCallbackSuccessAppliesMetadata(t *testing.T) {
	led := newMemLedger()
	svc := newTestService(&fakeGateway{}, led)
	_, err := led.Create(context.Background(), Payment{CheckoutRequestID: "ws_1", PhoneNumber: "254712345678", RequestedAmount: 500})
	require.NoError(t, err)

	ack := svc.HandleCallback(context.Background(), successEnvelope("ws_1", []MetadataItem{
		{Name: "Amount", Value: float64(500)},
		{Name: "MpesaReceiptNumber", Value: "ABC123"},
		{Name: "TransactionDate", Value: float64(20240115103045)},
		{Name: "PhoneNumber", Value: float64(254712345678)},
	}))
	require.Equal(t, 0, ack.ResultCode)

	p, err := svc.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)
	require.Equal(t, StatusSuccessful, p.Status)
	require.NotNil(t, p.ConfirmedAmount)
	require.Equal(t, int64(500), *p.ConfirmedAmount)
	require.NotNil(t, p.ReceiptNumber)
	require.Equal(t, "ABC123", *p.ReceiptNumber)
	require.NotNil(t, p.TransactionDate)
	require.Equal(t, 2024, p.TransactionDate.Year())
	require.Equal(t, "0", p.ResultCode)
}

func TestCallbackSuccessReplayIsIdempotent(t *testing.T) {
	led := newMemLedger()
	svc := newTestService(&fakeGateway{}, led)
	_, err := led.Create(context.Background(), Payment{CheckoutRequestID: "ws_1", RequestedAmount: 500})
	require.NoError(t, err)

	env := successEnvelope("ws_1", []MetadataItem{
		{Name: "Amount", Value: float64(500)},
		{Name: "MpesaReceiptNumber", Value: "ABC123"},
	})
	first := svc.HandleCallback(context.Background(), env)
	require.Equal(t, 0, first.ResultCode)

	before, err := svc.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)

	second := svc.HandleCallback(context.Background(), env)
	require.Equal(t, 0, second.ResultCode)

	after, err := svc.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestCallbackFailureIsTerminal(t *testing.T) {
	led := newMemLedger()
	svc := newTestService(&fakeGateway{}, led)
	_, err := led.Create(context.Background(), Payment{CheckoutRequestID: "ws_1", RequestedAmount: 500})
	require.NoError(t, err)

	ack := svc.HandleCallback(context.Background(), failureEnvelope("ws_1", 1032, "Request cancelled by user"))
	require.Equal(t, 0, ack.ResultCode)

	p, err := svc.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, p.Status)
	require.Equal(t, "1032", p.ResultCode)
	require.Equal(t, "Request cancelled by user", p.ResultDescription)

	// a late success delivery must not resurrect the payment
	late := svc.HandleCallback(context.Background(), successEnvelope("ws_1", []MetadataItem{
		{Name: "Amount", Value: float64(500)},
		{Name: "MpesaReceiptNumber", Value: "ABC123"},
	}))
	require.Equal(t, 0, late.ResultCode)

	p, err = svc.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, p.Status)
	require.Nil(t, p.ReceiptNumber)
}

func TestCallbackUnknownCorrelation(t *testing.T) {
	led := newMemLedger()
	svc := newTestService(&fakeGateway{}, led)

	ack := svc.HandleCallback(context.Background(), successEnvelope("ws_missing", nil))
	require.Equal(t, 1, ack.ResultCode)
	require.Empty(t, led.rows)
}

func TestCallbackMissingCorrelation(t *testing.T) {
	svc := newTestService(&fakeGateway{}, newMemLedger())

	ack := svc.HandleCallback(context.Background(), CallbackEnvelope{})
	require.Equal(t, 1, ack.ResultCode)
}

func TestCallbackPartialMetadata(t *testing.T) {
	led := newMemLedger()
	svc := newTestService(&fakeGateway{}, led)
	_, err := led.Create(context.Background(), Payment{CheckoutRequestID: "ws_1", RequestedAmount: 500})
	require.NoError(t, err)

	ack := svc.HandleCallback(context.Background(), successEnvelope("ws_1", []MetadataItem{
		{Name: "MpesaReceiptNumber", Value: "ABC123"},
		{Name: "TransactionDate", Value: "garbage"},
	}))
	require.Equal(t, 0, ack.ResultCode)

	p, err := svc.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)
	require.Equal(t, StatusSuccessful, p.Status)
	require.NotNil(t, p.ReceiptNumber)
	require.Nil(t, p.ConfirmedAmount)
	require.Nil(t, p.TransactionDate)
}

func TestInitiateGatewayErrors(t *testing.T) {
	led := newMemLedger()

	gw := &fakeGateway{err: ErrGatewayUnavailable}
	_, err := newTestService(gw, led).Initiate(context.Background(), InitiateInput{Phone: "0712345678", Amount: 500})
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	gw = &fakeGateway{err: ErrPushDeclined}
	_, err = newTestService(gw, led).Initiate(context.Background(), InitiateInput{Phone: "0712345678", Amount: 500})
	require.ErrorIs(t, err, ErrPushDeclined)

	require.Empty(t, led.rows)
}

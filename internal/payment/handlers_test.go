package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service) http.Handler {
	h := &Handler{Svc: svc, ListLimit: 50}
	r := chi.NewRouter()
	r.Post("/api/v1/payments/push", h.Push)
	r.Get("/api/v1/payments", h.List)
	r.Get("/api/v1/payments/{correlationId}", h.Status)
	r.Post("/webhooks/mpesa/callback", h.Callback)
	return r
}

func TestCallbackEndpointSuccessFlow(t *testing.T) {
	led := newMemLedger()
	svc := newTestService(&fakeGateway{}, led)
	_, err := led.Create(context.Background(), Payment{CheckoutRequestID: "ws_1", PhoneNumber: "254712345678", RequestedAmount: 500})
	require.NoError(t, err)
	router := newTestRouter(svc)

	body := `{
	  "Body": {
	    "stkCallback": {
	      "MerchantRequestID": "29115-34620561-1",
	      "CheckoutRequestID": "ws_1",
	      "ResultCode": 0,
	      "ResultDesc": "The service request is processed successfully.",
	      "CallbackMetadata": {
	        "Item": [
	          {"Name": "Amount", "Value": 500},
	          {"Name": "MpesaReceiptNumber", "Value": "ABC123"},
	          {"Name": "TransactionDate", "Value": 20240115103045},
	          {"Name": "PhoneNumber", "Value": 254712345678}
	        ]
	      }
	    }
	  }
	}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa/callback", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var ack Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	require.Equal(t, 0, ack.ResultCode)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/ws_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data Payment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, StatusSuccessful, resp.Data.Status)
	require.NotNil(t, resp.Data.ReceiptNumber)
	require.Equal(t, "ABC123", *resp.Data.ReceiptNumber)
}

func TestCallbackEndpointCancelledFlow(t *testing.T) {
	led := newMemLedger()
	svc := newTestService(&fakeGateway{}, led)
	_, err := led.Create(context.Background(), Payment{CheckoutRequestID: "ws_1", RequestedAmount: 500})
	require.NoError(t, err)
	router := newTestRouter(svc)

	body := `{
	  "Body": {
	    "stkCallback": {
	      "MerchantRequestID": "29115-34620561-1",
	      "CheckoutRequestID": "ws_1",
	      "ResultCode": 1032,
	      "ResultDesc": "Request cancelled by user"
	    }
	  }
	}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa/callback", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := svc.QueryStatus(context.Background(), "ws_1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, p.Status)
	require.Equal(t, "1032", p.ResultCode)
}

func TestCallbackEndpointMalformedBody(t *testing.T) {
	router := newTestRouter(newTestService(&fakeGateway{}, newMemLedger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa/callback", strings.NewReader("{not json")))

	// the gateway only understands 200 with a result body
	require.Equal(t, http.StatusOK, rec.Code)
	var ack Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	require.Equal(t, 1, ack.ResultCode)
}

func TestPushEndpointValidation(t *testing.T) {
	router := newTestRouter(newTestService(&fakeGateway{}, newMemLedger()))

	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "missing phone", body: `{"amount": 500}`, code: "VALIDATION_FAILED"},
		{name: "zero amount", body: `{"phone": "0712345678"}`, code: "VALIDATION_FAILED"},
		{name: "bad phone", body: `{"phone": "12345", "amount": 500}`, code: "INVALID_PHONE"},
		{name: "not json", body: `oops`, code: "BAD_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/push", strings.NewReader(tc.body))
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestPushEndpointAccepted(t *testing.T) {
	gw := &fakeGateway{result: PushResult{CheckoutRequestID: "ws_9", MerchantRequestID: "mr-9"}}
	router := newTestRouter(newTestService(gw, newMemLedger()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/push",
		strings.NewReader(`{"phone": "0712345678", "amount": 500, "reference": "order-1"}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Data Payment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ws_9", resp.Data.CheckoutRequestID)
	require.Equal(t, StatusPending, resp.Data.Status)
}

func TestStatusEndpointNotFound(t *testing.T) {
	router := newTestRouter(newTestService(&fakeGateway{}, newMemLedger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/ws_missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

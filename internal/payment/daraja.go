package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pos/internal/resilience"
)

// ErrInvalidPhone is returned when the payer MSISDN cannot be normalised.
var ErrInvalidPhone = errors.New("payment: invalid phone number")

// ErrInvalidAmount is returned when the push amount is not positive.
var ErrInvalidAmount = errors.New("payment: amount must be positive")

// ErrGatewayUnavailable is returned when the Daraja API cannot be reached
// or keeps failing after retries.
var ErrGatewayUnavailable = errors.New("payment: gateway unavailable")

// ErrPushDeclined is returned when Daraja rejects the push request outright.
var ErrPushDeclined = errors.New("payment: push declined")

// tokenSafetyMargin is subtracted from the advertised token lifetime so a
// token is never used within its final seconds.
const tokenSafetyMargin = 100 * time.Second

const (
	oauthPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	maxReferenceLen   = 12
	maxDescriptionLen = 13
)

// Credentials holds the Daraja app and till configuration.
type Credentials struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// PushResult is the normalised outcome of an accepted STK push.
type PushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}

// Daraja is the M-Pesa STK push gateway client. OAuth tokens are cached
// and refreshed ahead of expiry; a single token fetch is in flight at a
// time.
type Daraja struct {
	Creds    Credentials
	HTTP     resilience.HTTPClient
	TokenTTL time.Duration
	Log      zerolog.Logger

	// Now is the clock, overridable in tests.
	Now func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewDaraja constructs a gateway client with the default clock.
func NewDaraja(creds Credentials, client resilience.HTTPClient, tokenTTL time.Duration, log zerolog.Logger) *Daraja {
	return &Daraja{Creds: creds, HTTP: client, TokenTTL: tokenTTL, Log: log, Now: time.Now}
}

// NormalizePhone converts a payer MSISDN to the 254XXXXXXXXX wire form.
// All non-digit characters are stripped first, so decorated inputs like
// "+254 712-345-678" or "(0712) 345678" are accepted. The remaining digits
// must be in 07XXXXXXXX, 2547XXXXXXXX or 7XXXXXXXX shape.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return "", ErrInvalidPhone
	}
	switch {
	case strings.HasPrefix(cleaned, "254") && len(cleaned) == 12:
		return cleaned, nil
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		return "254" + cleaned[1:], nil
	case strings.HasPrefix(cleaned, "7") && len(cleaned) == 9:
		return "254" + cleaned, nil
	}
	return "", ErrInvalidPhone
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (d *Daraja) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.Now()
	if d.token != "" && now.Before(d.tokenExp) {
		return d.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Creds.BaseURL+oauthPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.Creds.ConsumerKey, d.Creds.ConsumerSecret)

	resp, err := d.HTTP.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %s", ErrGatewayUnavailable, resp.Status)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrGatewayUnavailable, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrGatewayUnavailable)
	}

	ttl := d.TokenTTL
	if secs, err := strconv.Atoi(strings.TrimSpace(tok.ExpiresIn)); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > tokenSafetyMargin {
		ttl -= tokenSafetyMargin
	}
	d.token = tok.AccessToken
	d.tokenExp = now.Add(ttl)
	return d.token, nil
}

type pushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

// Push sends an STK push prompt to the payer's phone. The phone must
// already be in 254 form. Reference and description are truncated to the
// gateway's field limits.
func (d *Daraja) Push(ctx context.Context, phone string, amount int64, reference, description string) (PushResult, error) {
	if amount <= 0 {
		return PushResult{}, ErrInvalidAmount
	}
	token, err := d.accessToken(ctx)
	if err != nil {
		return PushResult{}, err
	}

	timestamp := d.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(d.Creds.ShortCode + d.Creds.Passkey + timestamp))

	body := pushRequest{
		BusinessShortCode: d.Creds.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            d.Creds.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       d.Creds.CallbackURL,
		AccountReference:  truncate(reference, maxReferenceLen),
		TransactionDesc:   truncate(description, maxDescriptionLen),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return PushResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Creds.BaseURL+pushPath, bytes.NewReader(payload))
	if err != nil {
		return PushResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.HTTP.Do(ctx, req)
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	var parsed pushResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return PushResult{}, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK || parsed.ResponseCode != "0" {
		reason := parsed.ResponseDescription
		if reason == "" {
			reason = parsed.ErrorMessage
		}
		if reason == "" {
			reason = resp.Status
		}
		d.Log.Warn().Str("response_code", parsed.ResponseCode).Str("reason", reason).Msg("stk push declined")
		return PushResult{}, fmt.Errorf("%w: %s", ErrPushDeclined, reason)
	}

	return PushResult{
		MerchantRequestID: parsed.MerchantRequestID,
		CheckoutRequestID: parsed.CheckoutRequestID,
		CustomerMessage:   parsed.CustomerMessage,
	}, nil
}

// truncate shortens s to at most n characters, never splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Payment statuses. A payment starts pending and moves exactly once to a
// terminal status.
const (
	StatusPending    = "pending"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// ErrNotFound indicates no payment exists for the correlation id.
var ErrNotFound = errors.New("payment: not found")

// ErrAlreadyTerminal indicates the payment already reached a terminal
// status. Replayed callbacks hit this instead of rewriting the row.
var ErrAlreadyTerminal = errors.New("payment: already in terminal status")

// ErrDuplicateCorrelation indicates a ledger row already exists for the
// correlation id.
var ErrDuplicateCorrelation = errors.New("payment: duplicate correlation id")

// Payment is one row of the payment ledger. CheckoutRequestID is the
// correlation id shared with the gateway. Amounts are whole currency units.
type Payment struct {
	ID                uuid.UUID  `json:"id"`
	CheckoutRequestID string     `json:"correlationId"`
	MerchantRequestID string     `json:"merchantRequestId"`
	PhoneNumber       string     `json:"phoneNumber"`
	RequestedAmount   int64      `json:"requestedAmount"`
	ConfirmedAmount   *int64     `json:"confirmedAmount,omitempty"`
	Status            string     `json:"status"`
	ReceiptNumber     *string    `json:"receiptNumber,omitempty"`
	ResultCode        string     `json:"resultCode"`
	ResultDescription string     `json:"resultDescription"`
	TransactionDate   *time.Time `json:"transactionDate,omitempty"`
	SaleID            *uuid.UUID `json:"saleId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// ResultUpdate carries a callback outcome into the ledger.
type ResultUpdate struct {
	CorrelationID     string
	Status            string
	ConfirmedAmount   *int64
	ReceiptNumber     *string
	ResultCode        string
	ResultDescription string
	TransactionDate   *time.Time
}

// Store persists the payment ledger.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const paymentColumns = `id, checkout_request_id, merchant_request_id, phone_number, requested_amount,
	confirmed_amount, status, receipt_number, result_code, result_description, transaction_date,
	sale_id, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.CheckoutRequestID, &p.MerchantRequestID, &p.PhoneNumber, &p.RequestedAmount,
		&p.ConfirmedAmount, &p.Status, &p.ReceiptNumber, &p.ResultCode, &p.ResultDescription, &p.TransactionDate,
		&p.SaleID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Create inserts a pending ledger row. The unique index on the correlation
// id makes double-initiation fail with ErrDuplicateCorrelation.
func (s *Store) Create(ctx context.Context, p Payment) (Payment, error) {
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO mpesa_payments (checkout_request_id, merchant_request_id, phone_number, requested_amount, sale_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, status, created_at, updated_at`,
		p.CheckoutRequestID, p.MerchantRequestID, p.PhoneNumber, p.RequestedAmount, p.SaleID,
	).Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payment{}, ErrDuplicateCorrelation
		}
		return Payment{}, err
	}
	return p, nil
}

// GetByCorrelationID loads a payment by its correlation id.
func (s *Store) GetByCorrelationID(ctx context.Context, correlationID string) (Payment, error) {
	p, err := scanPayment(s.Pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM mpesa_payments WHERE checkout_request_id = $1`, correlationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

// ListRecent returns the newest payments first.
func (s *Store) ListRecent(ctx context.Context, limit int32) ([]Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM mpesa_payments ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkResult moves a pending payment to a terminal status. The status
// predicate in the WHERE clause is the guard that makes callback handling
// idempotent: a row that already left pending is never touched again, so a
// terminal status can never roll back.
func (s *Store) MarkResult(ctx context.Context, u ResultUpdate) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE mpesa_payments
		 SET status = $2, confirmed_amount = $3, receipt_number = $4,
		     result_code = $5, result_description = $6, transaction_date = $7,
		     updated_at = now()
		 WHERE checkout_request_id = $1 AND status = 'pending'`,
		u.CorrelationID, u.Status, u.ConfirmedAmount, u.ReceiptNumber,
		u.ResultCode, u.ResultDescription, u.TransactionDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	err = s.Pool.QueryRow(ctx,
		`SELECT status FROM mpesa_payments WHERE checkout_request_id = $1`, u.CorrelationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyTerminal
}

package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pos/internal/catalog"
)

// ErrCartNotFound is returned when the cart does not exist.
var ErrCartNotFound = errors.New("checkout: cart not found")

// ErrCartCompleted is returned when the cart already checked out.
var ErrCartCompleted = errors.New("checkout: cart is completed")

// ErrEmptyCart is returned when checking out a cart with no lines.
var ErrEmptyCart = errors.New("checkout: cart is empty")

// ErrInvalidInput is returned when the checkout request is invalid.
var ErrInvalidInput = errors.New("checkout: invalid input")

// Accepted payment methods.
const (
	MethodCash   = "cash"
	MethodCard   = "card"
	MethodMobile = "mobile"
)

type stockDecrementer interface {
	DecrementForSale(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int32, reason string) (catalog.Movement, error)
}

// Service turns an open cart into an immutable sale. The sale, its lines,
// the stock decrements and the cart completion all commit in one
// transaction, so a failed checkout leaves no partial state behind.
type Service struct {
	Pool    *pgxpool.Pool
	Catalog stockDecrementer
	// TaxBps is the tax rate in basis points applied to the discounted
	// subtotal. 1600 means 16%.
	TaxBps int64
}

// Input describes a checkout request.
type Input struct {
	CartID        uuid.UUID
	PaymentMethod string
	Discount      int64
	Notes         string
}

// Result is the committed sale plus its lines.
type Result struct {
	Sale  Sale       `json:"sale"`
	Items []SaleItem `json:"items"`
}

// Checkout converts the open cart into a sale.
func (s *Service) Checkout(ctx context.Context, in Input) (Result, error) {
	switch in.PaymentMethod {
	case MethodCash, MethodCard, MethodMobile:
	default:
		return Result{}, fmt.Errorf("unknown payment method %q: %w", in.PaymentMethod, ErrInvalidInput)
	}
	if in.Discount < 0 {
		return Result{}, fmt.Errorf("discount must not be negative: %w", ErrInvalidInput)
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var completed bool
	err = tx.QueryRow(ctx, `SELECT is_completed FROM carts WHERE id = $1 FOR UPDATE`, in.CartID).Scan(&completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{}, ErrCartNotFound
	}
	if err != nil {
		return Result{}, err
	}
	if completed {
		return Result{}, ErrCartCompleted
	}

	lines, err := loadLines(ctx, tx, in.CartID)
	if err != nil {
		return Result{}, err
	}
	if len(lines) == 0 {
		return Result{}, ErrEmptyCart
	}

	var subtotal int64
	for _, l := range lines {
		subtotal += int64(l.Qty) * l.UnitPrice
	}
	discount := in.Discount
	if discount > subtotal {
		discount = subtotal
	}
	tax := (subtotal - discount) * s.TaxBps / 10000
	total := subtotal - discount + tax

	sale := Sale{
		CartID:        in.CartID,
		PaymentMethod: in.PaymentMethod,
		Subtotal:      subtotal,
		Discount:      discount,
		Tax:           tax,
		Total:         total,
		Notes:         in.Notes,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO sales (cart_id, payment_method, subtotal, discount, tax, total, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		sale.CartID, sale.PaymentMethod, sale.Subtotal, sale.Discount, sale.Tax, sale.Total, sale.Notes,
	).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return Result{}, err
	}

	reason := "sale " + sale.ID.String()
	items := make([]SaleItem, 0, len(lines))
	for _, l := range lines {
		var it SaleItem
		err = tx.QueryRow(ctx,
			`INSERT INTO sale_items (sale_id, product_id, name, qty, unit_price)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			sale.ID, l.ProductID, l.Name, l.Qty, l.UnitPrice,
		).Scan(&it.ID)
		if err != nil {
			return Result{}, err
		}
		it.SaleID = sale.ID
		it.ProductID = l.ProductID
		it.Name = l.Name
		it.Qty = l.Qty
		it.UnitPrice = l.UnitPrice
		items = append(items, it)

		if _, err := s.Catalog.DecrementForSale(ctx, tx, l.ProductID, l.Qty, reason); err != nil {
			return Result{}, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE carts SET is_completed = true, updated_at = now() WHERE id = $1`, in.CartID); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Sale: sale, Items: items}, nil
}

type cartLine struct {
	ProductID uuid.UUID
	Name      string
	Qty       int32
	UnitPrice int64
}

func loadLines(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) ([]cartLine, error) {
	rows, err := tx.Query(ctx,
		`SELECT ci.product_id, p.name, ci.qty, ci.unit_price
		 FROM cart_items ci JOIN products p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1 ORDER BY p.name`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []cartLine
	for rows.Next() {
		var l cartLine
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Qty, &l.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sale is the immutable record produced by checkout. Amounts are whole
// currency units.
type Sale struct {
	ID            uuid.UUID `json:"id"`
	CartID        uuid.UUID `json:"cartId"`
	PaymentMethod string    `json:"paymentMethod"`
	Subtotal      int64     `json:"subtotal"`
	Discount      int64     `json:"discount"`
	Tax           int64     `json:"tax"`
	Total         int64     `json:"total"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SaleItem is one line of a sale, denormalised at checkout time.
type SaleItem struct {
	ID        uuid.UUID `json:"id"`
	SaleID    uuid.UUID `json:"saleId"`
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	Qty       int32     `json:"qty"`
	UnitPrice int64     `json:"unitPrice"`
}

// Store provides read access to completed sales.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const saleColumns = `id, cart_id, payment_method, subtotal, discount, tax, total, notes, created_at`

// GetSale loads one sale by id.
func (s *Store) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	var sale Sale
	err := s.Pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id).
		Scan(&sale.ID, &sale.CartID, &sale.PaymentMethod, &sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total, &sale.Notes, &sale.CreatedAt)
	return sale, err
}

// SaleByCart loads the sale created for a cart, if any.
func (s *Store) SaleByCart(ctx context.Context, cartID uuid.UUID) (Sale, error) {
	var sale Sale
	err := s.Pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE cart_id = $1`, cartID).
		Scan(&sale.ID, &sale.CartID, &sale.PaymentMethod, &sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total, &sale.Notes, &sale.CreatedAt)
	return sale, err
}

// ListItems returns the lines of a sale.
func (s *Store) ListItems(ctx context.Context, saleID uuid.UUID) ([]SaleItem, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, sale_id, product_id, name, qty, unit_price FROM sale_items WHERE sale_id = $1 ORDER BY name`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaleItem
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Name, &it.Qty, &it.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

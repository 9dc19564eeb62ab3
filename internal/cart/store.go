package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Cart is a session-scoped basket. One open cart exists per session id;
// checkout marks it completed and a new one is created on demand.
type Cart struct {
	ID          uuid.UUID `json:"id"`
	SessionID   string    `json:"sessionId"`
	IsCompleted bool      `json:"isCompleted"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Item is a cart line. UnitPrice is captured when the line is first added
// so later catalog price changes do not move an open cart's total.
type Item struct {
	ID          uuid.UUID `json:"id"`
	CartID      uuid.UUID `json:"cartId"`
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
	Qty         int32     `json:"qty"`
	UnitPrice   int64     `json:"unitPrice"`
	Subtotal    int64     `json:"subtotal"`
}

// Store provides cart persistence on top of pgx.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// EnsureCart loads the open cart for a session, creating one when absent.
func (s *Store) EnsureCart(ctx context.Context, sessionID string) (Cart, error) {
	var c Cart
	err := s.Pool.QueryRow(ctx,
		`SELECT id, session_id, is_completed, created_at, updated_at
		 FROM carts WHERE session_id = $1 AND NOT is_completed`, sessionID).
		Scan(&c.ID, &c.SessionID, &c.IsCompleted, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return c, nil
	}
	if err != pgx.ErrNoRows {
		return Cart{}, err
	}
	err = s.Pool.QueryRow(ctx,
		`INSERT INTO carts (session_id) VALUES ($1)
		 ON CONFLICT (session_id) WHERE NOT is_completed DO UPDATE SET updated_at = now()
		 RETURNING id, session_id, is_completed, created_at, updated_at`, sessionID).
		Scan(&c.ID, &c.SessionID, &c.IsCompleted, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCart loads a cart by id.
func (s *Store) GetCart(ctx context.Context, id uuid.UUID) (Cart, error) {
	var c Cart
	err := s.Pool.QueryRow(ctx,
		`SELECT id, session_id, is_completed, created_at, updated_at FROM carts WHERE id = $1`, id).
		Scan(&c.ID, &c.SessionID, &c.IsCompleted, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ListItems returns the cart's lines with product names resolved.
func (s *Store) ListItems(ctx context.Context, cartID uuid.UUID) ([]Item, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT ci.id, ci.cart_id, ci.product_id, p.name, ci.qty, ci.unit_price
		 FROM cart_items ci JOIN products p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1 ORDER BY p.name`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.ProductName, &it.Qty, &it.UnitPrice); err != nil {
			return nil, err
		}
		it.Subtotal = int64(it.Qty) * it.UnitPrice
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpsertItem adds qty of a product to the cart, capturing the product's
// current price on first add and incrementing the quantity afterwards.
func (s *Store) UpsertItem(ctx context.Context, cartID, productID uuid.UUID, qty int32, unitPrice int64) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO cart_items (cart_id, product_id, qty, unit_price)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cart_id, product_id)
		 DO UPDATE SET qty = cart_items.qty + EXCLUDED.qty`,
		cartID, productID, qty, unitPrice)
	if err == nil {
		_, err = s.Pool.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
	}
	return err
}

// UpdateItemQty sets the quantity of a line.
func (s *Store) UpdateItemQty(ctx context.Context, cartID, itemID uuid.UUID, qty int32) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE cart_items SET qty = $3 WHERE id = $2 AND cart_id = $1`, cartID, itemID, qty)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteItem removes a line from the cart.
func (s *Store) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM cart_items WHERE id = $2 AND cart_id = $1`, cartID, itemID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

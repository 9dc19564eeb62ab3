package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Category is a product grouping.
type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Product is a sellable catalog entry. Price is in whole currency units.
type Product struct {
	ID            uuid.UUID  `json:"id"`
	CategoryID    *uuid.UUID `json:"categoryId,omitempty"`
	Name          string     `json:"name"`
	SKU           *string    `json:"sku,omitempty"`
	Barcode       *string    `json:"barcode,omitempty"`
	Price         int64      `json:"price"`
	Stock         int32      `json:"stock"`
	MinStockLevel int32      `json:"minStockLevel"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Movement is one inventory ledger entry. Every change to a product's stock
// records the counts before and after the change.
type Movement struct {
	ID               uuid.UUID `json:"id"`
	ProductID        uuid.UUID `json:"productId"`
	Kind             string    `json:"kind"`
	Quantity         int32     `json:"quantity"`
	PreviousQuantity int32     `json:"previousQuantity"`
	NewQuantity      int32     `json:"newQuantity"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Movement kinds.
const (
	MovementIn         = "in"
	MovementOut        = "out"
	MovementAdjustment = "adjustment"
)

// ErrInsufficientStock is returned when a decrement would take stock below zero.
var ErrInsufficientStock = errors.New("catalog: insufficient stock")

// Store provides catalog persistence on top of pgx.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const productColumns = `id, category_id, name, sku, barcode, price, stock, min_stock_level, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.SKU, &p.Barcode, &p.Price, &p.Stock, &p.MinStockLevel, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, description, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListProducts returns active products ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProduct loads a single product by id.
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(s.Pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// AdjustStock applies a signed stock delta and records the movement. The row
// is locked for the duration of the change so concurrent adjustments never
// lose an update.
func (s *Store) AdjustStock(ctx context.Context, productID uuid.UUID, delta int32, reason string) (Movement, error) {
	if delta == 0 {
		return Movement{}, fmt.Errorf("catalog: zero delta")
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Movement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	kind := MovementIn
	if delta < 0 {
		kind = MovementOut
	}
	mv, err := applyStockChange(ctx, tx, productID, delta, kind, reason)
	if err != nil {
		return Movement{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Movement{}, err
	}
	return mv, nil
}

// DecrementForSale reduces stock by qty inside the caller's transaction,
// recording an "out" movement. Used by checkout so the sale and its stock
// effects commit atomically.
func (s *Store) DecrementForSale(ctx context.Context, tx pgx.Tx, productID uuid.UUID, qty int32, reason string) (Movement, error) {
	if qty <= 0 {
		return Movement{}, fmt.Errorf("catalog: qty must be positive")
	}
	return applyStockChange(ctx, tx, productID, -qty, MovementOut, reason)
}

// ListMovements returns the most recent movements for a product.
func (s *Store) ListMovements(ctx context.Context, productID uuid.UUID, limit int32) ([]Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT id, product_id, kind, quantity, previous_quantity, new_quantity, reason, created_at
		 FROM stock_movements WHERE product_id = $1 ORDER BY created_at DESC LIMIT $2`,
		productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Kind, &m.Quantity, &m.PreviousQuantity, &m.NewQuantity, &m.Reason, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func applyStockChange(ctx context.Context, tx pgx.Tx, productID uuid.UUID, delta int32, kind, reason string) (Movement, error) {
	var previous int32
	if err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&previous); err != nil {
		return Movement{}, err
	}
	next := previous + delta
	if next < 0 {
		return Movement{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientStock, previous, -delta)
	}
	if _, err := tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, productID, next); err != nil {
		return Movement{}, err
	}
	qty := delta
	if qty < 0 {
		qty = -qty
	}
	mv := Movement{ProductID: productID, Kind: kind, Quantity: qty, PreviousQuantity: previous, NewQuantity: next, Reason: reason}
	err := tx.QueryRow(ctx,
		`INSERT INTO stock_movements (product_id, kind, quantity, previous_quantity, new_quantity, reason)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		mv.ProductID, mv.Kind, mv.Quantity, mv.PreviousQuantity, mv.NewQuantity, mv.Reason,
	).Scan(&mv.ID, &mv.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return mv, nil
}

package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-pos/internal/catalog"
)

// ErrNotFound indicates the requested cart or line could not be located.
var ErrNotFound = errors.New("cart: not found")

// ErrCompleted is returned when mutating a cart that already checked out.
var ErrCompleted = errors.New("cart: cart is completed")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("cart: invalid input")

type store interface {
	EnsureCart(ctx context.Context, sessionID string) (Cart, error)
	GetCart(ctx context.Context, id uuid.UUID) (Cart, error)
	ListItems(ctx context.Context, cartID uuid.UUID) ([]Item, error)
	UpsertItem(ctx context.Context, cartID, productID uuid.UUID, qty int32, unitPrice int64) error
	UpdateItemQty(ctx context.Context, cartID, itemID uuid.UUID, qty int32) (int64, error)
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error)
}

type productLookup interface {
	GetProduct(ctx context.Context, id uuid.UUID) (catalog.Product, error)
}

// Service encapsulates cart domain operations.
type Service struct {
	Store    store
	Products productLookup
}

// View is the assembled cart payload returned to clients.
type View struct {
	Cart  Cart   `json:"cart"`
	Items []Item `json:"items"`
	Total int64  `json:"total"`
}

// Ensure loads or creates the open cart for a session.
func (s *Service) Ensure(ctx context.Context, sessionID string) (Cart, error) {
	if sessionID == "" {
		return Cart{}, fmt.Errorf("session id required: %w", ErrInvalidInput)
	}
	return s.Store.EnsureCart(ctx, sessionID)
}

// Get assembles the cart view with line subtotals and the cart total.
func (s *Service) Get(ctx context.Context, cartID uuid.UUID) (View, error) {
	c, err := s.Store.GetCart(ctx, cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{}, ErrNotFound
		}
		return View{}, err
	}
	items, err := s.Store.ListItems(ctx, cartID)
	if err != nil {
		return View{}, err
	}
	if items == nil {
		items = []Item{}
	}
	var total int64
	for _, it := range items {
		total += it.Subtotal
	}
	return View{Cart: c, Items: items, Total: total}, nil
}

// AddItem adds qty of a product to an open cart, capturing the product's
// current price on first add.
func (s *Service) AddItem(ctx context.Context, cartID, productID uuid.UUID, qty int32) error {
	if qty <= 0 {
		return fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
	}
	c, err := s.Store.GetCart(ctx, cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if c.IsCompleted {
		return ErrCompleted
	}
	product, err := s.Products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("unknown product: %w", ErrInvalidInput)
		}
		return err
	}
	if !product.IsActive {
		return fmt.Errorf("product is inactive: %w", ErrInvalidInput)
	}
	return s.Store.UpsertItem(ctx, cartID, productID, qty, product.Price)
}

// UpdateQty sets the quantity for a cart line.
func (s *Service) UpdateQty(ctx context.Context, cartID, itemID uuid.UUID, qty int32) error {
	if qty <= 0 {
		return fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
	}
	if err := s.requireOpen(ctx, cartID); err != nil {
		return err
	}
	affected, err := s.Store.UpdateItemQty(ctx, cartID, itemID, qty)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveItem deletes a cart line.
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	if err := s.requireOpen(ctx, cartID); err != nil {
		return err
	}
	affected, err := s.Store.DeleteItem(ctx, cartID, itemID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) requireOpen(ctx context.Context, cartID uuid.UUID) error {
	c, err := s.Store.GetCart(ctx, cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if c.IsCompleted {
		return ErrCompleted
	}
	return nil
}

package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound indicates the requested catalog entity does not exist.
var ErrNotFound = errors.New("catalog: not found")

type store interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	AdjustStock(ctx context.Context, productID uuid.UUID, delta int32, reason string) (Movement, error)
	ListMovements(ctx context.Context, productID uuid.UUID, limit int32) ([]Movement, error)
}

// Service orchestrates catalog reads and stock adjustments.
type Service struct {
	Store store
}

// NewService constructs a Service.
func NewService(s store) *Service {
	return &Service{Store: s}
}

// Categories lists all categories.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	return s.Store.ListCategories(ctx)
}

// Products lists active products.
func (s *Service) Products(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

// Product returns one product by id.
func (s *Service) Product(ctx context.Context, id uuid.UUID) (Product, error) {
	p, err := s.Store.GetProduct(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

// AdjustStock applies a signed stock delta with an audit movement.
func (s *Service) AdjustStock(ctx context.Context, productID uuid.UUID, delta int32, reason string) (Movement, error) {
	mv, err := s.Store.AdjustStock(ctx, productID, delta, reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrNotFound
	}
	return mv, err
}

// Movements lists the most recent stock movements for a product.
func (s *Service) Movements(ctx context.Context, productID uuid.UUID, limit int32) ([]Movement, error) {
	return s.Store.ListMovements(ctx, productID, limit)
}

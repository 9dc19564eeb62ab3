package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/catalog"
)

type stubStore struct {
	carts map[uuid.UUID]Cart
	items map[uuid.UUID][]Item

	upserts int
	lastQty int32
}

func newStubStore() *stubStore {
	return &stubStore{carts: map[uuid.UUID]Cart{}, items: map[uuid.UUID][]Item{}}
}

func (s *stubStore) EnsureCart(_ context.Context, sessionID string) (Cart, error) {
	for _, c := range s.carts {
		if c.SessionID == sessionID && !c.IsCompleted {
			return c, nil
		}
	}
	c := Cart{ID: uuid.New(), SessionID: sessionID}
	s.carts[c.ID] = c
	return c, nil
}

func (s *stubStore) GetCart(_ context.Context, id uuid.UUID) (Cart, error) {
	c, ok := s.carts[id]
	if !ok {
		return Cart{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *stubStore) ListItems(_ context.Context, cartID uuid.UUID) ([]Item, error) {
	return s.items[cartID], nil
}

func (s *stubStore) UpsertItem(_ context.Context, cartID, productID uuid.UUID, qty int32, unitPrice int64) error {
	s.upserts++
	s.lastQty = qty
	s.items[cartID] = append(s.items[cartID], Item{
		ID: uuid.New(), CartID: cartID, ProductID: productID,
		Qty: qty, UnitPrice: unitPrice, Subtotal: int64(qty) * unitPrice,
	})
	return nil
}

func (s *stubStore) UpdateItemQty(_ context.Context, cartID, itemID uuid.UUID, qty int32) (int64, error) {
	for i, it := range s.items[cartID] {
		if it.ID == itemID {
			s.items[cartID][i].Qty = qty
			return 1, nil
		}
	}
	return 0, nil
}

func (s *stubStore) DeleteItem(_ context.Context, cartID, itemID uuid.UUID) (int64, error) {
	for i, it := range s.items[cartID] {
		if it.ID == itemID {
			s.items[cartID] = append(s.items[cartID][:i], s.items[cartID][i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

type stubProducts struct {
	products map[uuid.UUID]catalog.Product
}

func (s stubProducts) GetProduct(_ context.Context, id uuid.UUID) (catalog.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func newTestService() (*Service, *stubStore, uuid.UUID, uuid.UUID) {
	store := newStubStore()
	productID := uuid.New()
	products := stubProducts{products: map[uuid.UUID]catalog.Product{
		productID: {ID: productID, Name: "Soda 300ml", Price: 80, IsActive: true},
	}}
	svc := &Service{Store: store, Products: products}
	c, _ := store.EnsureCart(context.Background(), "sess-1")
	return svc, store, c.ID, productID
}

func TestEnsureRequiresSession(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Ensure(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddItemCapturesPrice(t *testing.T) {
	svc, store, cartID, productID := newTestService()

	require.NoError(t, svc.AddItem(context.Background(), cartID, productID, 2))
	require.Equal(t, 1, store.upserts)

	view, err := svc.Get(context.Background(), cartID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	require.Equal(t, int64(80), view.Items[0].UnitPrice)
	require.Equal(t, int64(160), view.Total)
}

func TestAddItemRejectsBadInput(t *testing.T) {
	svc, _, cartID, productID := newTestService()

	require.ErrorIs(t, svc.AddItem(context.Background(), cartID, productID, 0), ErrInvalidInput)
	require.ErrorIs(t, svc.AddItem(context.Background(), cartID, uuid.New(), 1), ErrInvalidInput)
	require.ErrorIs(t, svc.AddItem(context.Background(), uuid.New(), productID, 1), ErrNotFound)
}

func TestAddItemRejectsInactiveProduct(t *testing.T) {
	svc, store, cartID, _ := newTestService()
	inactive := uuid.New()
	svc.Products = stubProducts{products: map[uuid.UUID]catalog.Product{
		inactive: {ID: inactive, Name: "Old stock", Price: 10, IsActive: false},
	}}

	err := svc.AddItem(context.Background(), cartID, inactive, 1)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, store.upserts)
}

func TestCompletedCartIsFrozen(t *testing.T) {
	svc, store, cartID, productID := newTestService()
	c := store.carts[cartID]
	c.IsCompleted = true
	store.carts[cartID] = c

	require.ErrorIs(t, svc.AddItem(context.Background(), cartID, productID, 1), ErrCompleted)
	require.ErrorIs(t, svc.UpdateQty(context.Background(), cartID, uuid.New(), 2), ErrCompleted)
	require.ErrorIs(t, svc.RemoveItem(context.Background(), cartID, uuid.New()), ErrCompleted)
}

func TestUpdateQtyMissingLine(t *testing.T) {
	svc, _, cartID, _ := newTestService()
	require.ErrorIs(t, svc.UpdateQty(context.Background(), cartID, uuid.New(), 2), ErrNotFound)
	require.ErrorIs(t, svc.UpdateQty(context.Background(), cartID, uuid.New(), 0), ErrInvalidInput)
}

func TestRemoveItem(t *testing.T) {
	svc, store, cartID, productID := newTestService()
	require.NoError(t, svc.AddItem(context.Background(), cartID, productID, 1))
	itemID := store.items[cartID][0].ID

	require.NoError(t, svc.RemoveItem(context.Background(), cartID, itemID))
	require.ErrorIs(t, svc.RemoveItem(context.Background(), cartID, itemID), ErrNotFound)
}

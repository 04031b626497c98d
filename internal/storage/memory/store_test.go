package memory

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

func newSeededStore() *Store {
	s := New()
	s.Seed(
		[]customer.Customer{{ID: "c1", Name: "Alice"}},
		[]product.Product{
			{ID: "p1", Name: "Widget", Price: decimal.NewFromInt(10), Quantity: 5},
			{ID: "p2", Name: "Gadget", Price: decimal.RequireFromString("2.50"), Quantity: 1},
		},
	)
	return s
}

func TestRepositories_Lookup(t *testing.T) {
	s := newSeededStore()
	ctx := context.Background()

	c, err := NewCustomerRepository(s).FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)

	_, err = NewCustomerRepository(s).FindByID(ctx, "nope")
	require.ErrorIs(t, err, customer.ErrNotFound)

	products := NewProductRepository(s)
	p, err := products.GetByID(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.5").Equal(p.Price))

	_, err = products.GetByID(ctx, "nope")
	require.ErrorIs(t, err, product.ErrNotFound)

	found, err := products.FindAllByID(ctx, []string{"p2", "nope", "p1", "p2"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "p2", found[0].ID)
	assert.Equal(t, "p1", found[1].ID)

	_, err = NewOrderRepository(s).GetByID(ctx, "nope")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestInTx_CommitsReservationAndOrder(t *testing.T) {
	s := newSeededStore()
	ctx := context.Background()

	var created *order.Order
	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		updated, err := tx.Reserve(ctx, []order.Reservation{{ProductID: "p1", Quantity: 3}})
		if err != nil {
			return err
		}
		if updated[0].Quantity != 2 {
			return errors.Errorf("unexpected quantity %d", updated[0].Quantity)
		}
		created, err = tx.CreateOrder(ctx, "c1", []order.LineItem{
			{ProductID: "p1", Price: decimal.NewFromInt(10), Quantity: 3},
		})
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	p, err := NewProductRepository(s).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Quantity)

	got, err := NewOrderRepository(s).GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CustomerID)
	assert.Equal(t, created.Items, got.Items)
	assert.Equal(t, 1, s.OrderCount())
}

func TestInTx_ReserveReportsAllShortProducts(t *testing.T) {
	s := newSeededStore()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		_, err := tx.Reserve(ctx, []order.Reservation{
			{ProductID: "p1", Quantity: 6},
			{ProductID: "p2", Quantity: 2},
		})
		return err
	})

	var isErr *order.InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, []string{"p1", "p2"}, isErr.ProductIDs)
}

func TestInTx_RollbackDiscardsWrites(t *testing.T) {
	s := newSeededStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		if _, err := tx.Reserve(ctx, []order.Reservation{{ProductID: "p1", Quantity: 5}}); err != nil {
			return err
		}
		if _, err := tx.CreateOrder(ctx, "c1", nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := NewProductRepository(s).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Quantity)
	assert.Zero(t, s.OrderCount())
}

func TestInTx_ReserveSeesOwnWrites(t *testing.T) {
	s := newSeededStore()
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		if _, err := tx.Reserve(ctx, []order.Reservation{{ProductID: "p1", Quantity: 4}}); err != nil {
			return err
		}
		_, err := tx.Reserve(ctx, []order.Reservation{{ProductID: "p1", Quantity: 2}})
		return err
	})

	var isErr *order.InsufficientStockError
	require.ErrorAs(t, err, &isErr)

	p, err := NewProductRepository(s).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Quantity)
}

func TestInTx_ReserveUnknownProduct(t *testing.T) {
	s := newSeededStore()

	err := s.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		_, err := tx.Reserve(ctx, []order.Reservation{{ProductID: "ghost", Quantity: 1}})
		return err
	})
	require.ErrorIs(t, err, product.ErrNotFound)

	var missing *order.ProductNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"ghost"}, missing.ProductIDs)
}

func TestInTx_CanceledContext(t *testing.T) {
	s := newSeededStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.InTx(ctx, func(context.Context, order.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	s := newSeededStore()
	ctx := context.Background()

	var id string
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		o, err := tx.CreateOrder(ctx, "c1", []order.LineItem{{ProductID: "p1", Price: decimal.NewFromInt(1), Quantity: 1}})
		if err != nil {
			return err
		}
		id = o.ID
		return nil
	}))

	repo := NewOrderRepository(s)
	first, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	first.Items[0].Quantity = 42

	second, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Items[0].Quantity)
}

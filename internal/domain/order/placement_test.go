package order_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
	"github.com/xenking/oolio-orders/internal/storage/memory"
)

func newMemoryService(t *testing.T, stock int, opts ...order.Option) (*order.Service, *memory.Store) {
	t.Helper()

	store := memory.New()
	store.Seed(
		[]customer.Customer{{ID: "c1", Name: "Alice"}},
		[]product.Product{
			{ID: "p1", Name: "Widget", Price: decimal.NewFromInt(10), Quantity: stock},
			{ID: "p2", Name: "Gadget", Price: decimal.NewFromInt(4), Quantity: stock},
		},
	)
	svc, err := order.NewService(
		memory.NewCustomerRepository(store),
		memory.NewProductRepository(store),
		store,
		opts...,
	)
	require.NoError(t, err)
	return svc, store
}

func TestPlaceOrder_ConcurrentPlacementsNeverOversell(t *testing.T) {
	const (
		stock   = 10
		workers = 50
	)
	svc, store := newMemoryService(t, stock)

	var placed, short atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for range workers {
		g.Go(func() error {
			_, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{
				CustomerID: "c1",
				Items: []order.ItemRequest{
					{ProductID: "p2", Quantity: 1},
					{ProductID: "p1", Quantity: 1},
				},
			})
			var isErr *order.InsufficientStockError
			switch {
			case err == nil:
				placed.Add(1)
			case errors.As(err, &isErr):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(stock), placed.Load())
	assert.Equal(t, int64(workers-stock), short.Load())
	assert.Equal(t, stock, store.OrderCount())

	products := memory.NewProductRepository(store)
	for _, id := range []string{"p1", "p2"} {
		p, err := products.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Zero(t, p.Quantity, id)
	}
}

func TestPlaceOrder_PersistedOrderMatchesView(t *testing.T) {
	svc, store := newMemoryService(t, 5)
	ctx := context.Background()

	view, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		CustomerID: "c1",
		Items:      []order.ItemRequest{{ProductID: "p1", Quantity: 3}},
	})
	require.NoError(t, err)

	o, err := memory.NewOrderRepository(store).GetByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", o.CustomerID)
	assert.Equal(t, view.Items, o.Items)
	assert.Equal(t, view.CreatedAt, o.CreatedAt)

	p, err := memory.NewProductRepository(store).GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Quantity)
}

func TestPlaceOrder_SpanEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	svc, _ := newMemoryService(t, 5, order.WithTracerProvider(tp))
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		CustomerID: "c1",
		Items:      []order.ItemRequest{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)
	_, err = svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		CustomerID: "c1",
		Items:      []order.ItemRequest{{ProductID: "p1", Quantity: 100}},
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, []string{"validating", "reserving", "persisted"}, eventNames(spans[0]))
	assert.Equal(t, []string{"validating", "rejected"}, eventNames(spans[1]))
}

func eventNames(s sdktrace.ReadOnlySpan) []string {
	var names []string
	for _, e := range s.Events() {
		names = append(names, e.Name)
	}
	return names
}

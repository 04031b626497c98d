//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "orders",
				"POSTGRES_PASSWORD": "orders",
				"POSTGRES_DB":       "orders",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := c.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://orders:orders@%s:%s/orders?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	return m.Run()
}

func seed(t *testing.T, products ...product.Product) {
	t.Helper()
	ctx := context.Background()

	_, err := testPool.Exec(ctx, `TRUNCATE order_items, orders, products, customers CASCADE`)
	require.NoError(t, err)
	require.NoError(t, SeedCustomers(ctx, testPool, []customer.Customer{{ID: "c1", Name: "Alice"}}))
	require.NoError(t, SeedProducts(ctx, testPool, products))
}

func newService(t *testing.T) *order.Service {
	t.Helper()
	svc, err := order.NewService(
		NewCustomerRepository(testPool),
		NewProductRepository(testPool),
		NewTransactor(testPool),
	)
	require.NoError(t, err)
	return svc
}

func quantityOf(t *testing.T, id string) int {
	t.Helper()
	p, err := NewProductRepository(testPool).GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func countOrders(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, testPool.QueryRow(context.Background(), `SELECT count(*) FROM orders`).Scan(&n))
	return n
}

func TestPlaceOrder_Postgres(t *testing.T) {
	seed(t, product.Product{ID: "p1", Name: "Widget", Price: decimal.NewFromInt(10), Quantity: 5})
	svc := newService(t)
	ctx := context.Background()

	view, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		CustomerID: "c1",
		Items:      []order.ItemRequest{{ProductID: "p1", Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, quantityOf(t, "p1"))

	got, err := NewOrderRepository(testPool).GetByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.CustomerID)
	require.Len(t, got.Items, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Items[0].Price))
	assert.Equal(t, 3, got.Items[0].Quantity)

	_, err = svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		CustomerID: "c1",
		Items:      []order.ItemRequest{{ProductID: "p1", Quantity: 10}},
	})
	var isErr *order.InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, 2, quantityOf(t, "p1"))
	assert.Equal(t, 1, countOrders(t))
}

func TestReserve_ReportsAllShortAndRollsBack(t *testing.T) {
	seed(t,
		product.Product{ID: "a", Name: "A", Price: decimal.NewFromInt(1), Quantity: 1},
		product.Product{ID: "b", Name: "B", Price: decimal.NewFromInt(1), Quantity: 5},
		product.Product{ID: "c", Name: "C", Price: decimal.NewFromInt(1), Quantity: 0},
	)

	err := NewTransactor(testPool).InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		_, err := tx.Reserve(ctx, []order.Reservation{
			{ProductID: "a", Quantity: 2},
			{ProductID: "b", Quantity: 1},
			{ProductID: "c", Quantity: 1},
		})
		return err
	})

	var isErr *order.InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, []string{"a", "c"}, isErr.ProductIDs)
	assert.Equal(t, 5, quantityOf(t, "b"))
}

func TestReserve_MissingProductIsNotFound(t *testing.T) {
	seed(t,
		product.Product{ID: "p1", Name: "Widget", Price: decimal.NewFromInt(10), Quantity: 1},
		product.Product{ID: "p2", Name: "Gadget", Price: decimal.NewFromInt(5), Quantity: 5},
	)

	err := NewTransactor(testPool).InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		_, err := tx.Reserve(ctx, []order.Reservation{
			{ProductID: "ghost-a", Quantity: 1},
			{ProductID: "ghost-b", Quantity: 1},
			{ProductID: "p1", Quantity: 5},
			{ProductID: "p2", Quantity: 1},
		})
		return err
	})

	var missing *order.ProductNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"ghost-a", "ghost-b"}, missing.ProductIDs)
	assert.Equal(t, 5, quantityOf(t, "p2"))
}

func TestInTx_FailedCreateRollsBackReservation(t *testing.T) {
	seed(t, product.Product{ID: "p1", Name: "Widget", Price: decimal.NewFromInt(10), Quantity: 5})

	err := NewTransactor(testPool).InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		if _, err := tx.Reserve(ctx, []order.Reservation{{ProductID: "p1", Quantity: 5}}); err != nil {
			return err
		}
		// Unknown customer violates the foreign key.
		_, err := tx.CreateOrder(ctx, "ghost", []order.LineItem{
			{ProductID: "p1", Price: decimal.NewFromInt(10), Quantity: 5},
		})
		return err
	})
	require.Error(t, err)
	assert.Equal(t, 5, quantityOf(t, "p1"))
	assert.Zero(t, countOrders(t))
}

func TestPlaceOrder_ConcurrentPostgres(t *testing.T) {
	const (
		stock   = 5
		workers = 20
	)
	seed(t,
		product.Product{ID: "p1", Name: "Widget", Price: decimal.NewFromInt(10), Quantity: stock},
		product.Product{ID: "p2", Name: "Gadget", Price: decimal.NewFromInt(3), Quantity: stock},
	)
	svc := newService(t)

	var placed atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := range workers {
		items := []order.ItemRequest{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 1}}
		if i%2 == 1 {
			items[0], items[1] = items[1], items[0]
		}
		g.Go(func() error {
			_, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{CustomerID: "c1", Items: items})
			var isErr *order.InsufficientStockError
			switch {
			case err == nil:
				placed.Add(1)
			case errors.As(err, &isErr):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(stock), placed.Load())
	assert.Zero(t, quantityOf(t, "p1"))
	assert.Zero(t, quantityOf(t, "p2"))
	assert.Equal(t, stock, countOrders(t))
}

func TestOrderRepository_NotFound(t *testing.T) {
	repo := NewOrderRepository(testPool)

	_, err := repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, order.ErrNotFound)

	_, err = repo.GetByID(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, order.ErrNotFound)
}

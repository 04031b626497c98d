// Package memory provides in-process implementations of the customer,
// product and order repositories.
//
// All state lives behind one mutex. A transaction holds the write lock for its
// whole duration and stages its writes, which are applied only when the
// transaction function succeeds. Functions passed to InTx must use the given
// order.Tx and never call back into the repositories.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

var _ order.Transactor = (*Store)(nil)

// Store holds customers, products and orders in memory.
type Store struct {
	mu        sync.RWMutex
	customers map[string]customer.Customer
	products  map[string]product.Product
	orders    map[string]order.Order
	now       func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		customers: make(map[string]customer.Customer),
		products:  make(map[string]product.Product),
		orders:    make(map[string]order.Order),
		now:       time.Now,
	}
}

// Seed inserts or replaces customers and products.
func (s *Store) Seed(customers []customer.Customer, products []product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range customers {
		s.customers[c.ID] = c
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// InTx runs fn against staged copies of the touched rows and applies them
// only if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:    s,
		products: make(map[string]product.Product),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	maps.Copy(s.products, tx.products)
	for _, o := range tx.orders {
		s.orders[o.ID] = o
	}
	return nil
}

type memTx struct {
	store    *Store
	products map[string]product.Product
	orders   []order.Order
}

func (t *memTx) product(id string) (product.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.store.products[id]
	return p, ok
}

// Reserve checks every reservation before writing any of them.
func (t *memTx) Reserve(_ context.Context, reservations []order.Reservation) ([]product.Product, error) {
	var deficient, missing []string
	for _, r := range reservations {
		if r.Quantity <= 0 {
			return nil, errors.Errorf("reserve product %q: non-positive quantity %d", r.ProductID, r.Quantity)
		}
		p, ok := t.product(r.ProductID)
		if !ok {
			missing = append(missing, r.ProductID)
			continue
		}
		if p.Quantity < r.Quantity {
			deficient = append(deficient, r.ProductID)
		}
	}
	if len(missing) > 0 {
		return nil, &order.ProductNotFoundError{ProductIDs: missing}
	}
	if len(deficient) > 0 {
		return nil, &order.InsufficientStockError{ProductIDs: deficient}
	}

	updated := make([]product.Product, len(reservations))
	for i, r := range reservations {
		p, _ := t.product(r.ProductID)
		p.Quantity -= r.Quantity
		t.products[p.ID] = p
		updated[i] = p
	}
	return updated, nil
}

func (t *memTx) CreateOrder(_ context.Context, customerID string, items []order.LineItem) (*order.Order, error) {
	o := order.Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Items:      slices.Clone(items),
		CreatedAt:  t.store.now().UTC(),
	}
	t.orders = append(t.orders, o)

	out := o
	out.Items = slices.Clone(o.Items)
	return &out, nil
}

package memory

import (
	"context"
	"slices"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

var (
	_ customer.Repository = (*CustomerRepository)(nil)
	_ product.Repository  = (*ProductRepository)(nil)
	_ order.Repository    = (*OrderRepository)(nil)
)

// CustomerRepository implements customer.Repository over a Store.
type CustomerRepository struct {
	s *Store
}

// NewCustomerRepository returns a CustomerRepository reading from s.
func NewCustomerRepository(s *Store) *CustomerRepository {
	return &CustomerRepository{s: s}
}

// FindByID returns the customer with the given id.
func (r *CustomerRepository) FindByID(_ context.Context, id string) (*customer.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return &c, nil
}

// ProductRepository implements product.Repository over a Store.
type ProductRepository struct {
	s *Store
}

// NewProductRepository returns a ProductRepository reading from s.
func NewProductRepository(s *Store) *ProductRepository {
	return &ProductRepository{s: s}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// FindAllByID returns the products matching ids, skipping unknown ones.
func (r *ProductRepository) FindAllByID(_ context.Context, ids []string) ([]product.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]product.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// OrderRepository implements order.Repository over a Store.
type OrderRepository struct {
	s *Store
}

// NewOrderRepository returns an OrderRepository reading from s.
func NewOrderRepository(s *Store) *OrderRepository {
	return &OrderRepository{s: s}
}

// GetByID returns a committed order.
func (r *OrderRepository) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

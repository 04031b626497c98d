package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

const (
	getCustomerByIDSQL = `SELECT id, name FROM customers WHERE id = ?`

	getProductByIDSQL = `SELECT id, name, price, quantity FROM products WHERE id = ?`

	getOrderByIDSQL = `SELECT id, customer_id, created_at FROM orders WHERE id = ?`

	getOrderItemsSQL = `SELECT product_id, price, quantity
		FROM order_items WHERE order_id = ? ORDER BY position`
)

var (
	_ customer.Repository = (*CustomerRepository)(nil)
	_ product.Repository  = (*ProductRepository)(nil)
	_ order.Repository    = (*OrderRepository)(nil)
)

type rowScanner interface {
	Scan(dest ...any) error
}

// CustomerRepository implements customer.Repository backed by SQLite.
type CustomerRepository struct {
	db *sql.DB
}

// NewCustomerRepository returns a CustomerRepository over db.
func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// FindByID returns the customer with the given id.
func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	var c customer.Customer
	err := r.db.QueryRowContext(ctx, getCustomerByIDSQL, id).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("finding customer %q: %w", id, err)
	}
	return &c, nil
}

// ProductRepository implements product.Repository backed by SQLite.
type ProductRepository struct {
	db *sql.DB
}

// NewProductRepository returns a ProductRepository over db.
func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, getProductByIDSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// FindAllByID returns products matching any of the given IDs in one query.
func (r *ProductRepository) FindAllByID(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, name, price, quantity FROM products WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return out, nil
}

// OrderRepository implements order.Repository backed by SQLite.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository returns an OrderRepository over db.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByID returns an order with its line items in placement order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var (
		o         order.Order
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, getOrderByIDSQL, id).Scan(&o.ID, &o.CustomerID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of order %q: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item order.LineItem
		if err := rows.Scan(&item.ProductID, &item.Price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scanning item of order %q: %w", id, err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}

	return &o, nil
}

func scanProduct(row rowScanner) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity)
	return p, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

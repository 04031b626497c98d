package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

const (
	getOrderByIDSQL = `SELECT id, customer_id, created_at FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT product_id, price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY position`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns an order with its line items in placement order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, getOrderByIDSQL, id).Scan(&o.ID, &o.CustomerID, &o.CreatedAt)
	if err != nil {
		// Malformed ids fail the uuid cast rather than matching nothing.
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.CreatedAt = o.CreatedAt.UTC()

	return &o, nil
}

func scanLineItem(row pgx.CollectableRow) (order.LineItem, error) {
	var (
		item  order.LineItem
		price decimal.Decimal
	)
	err := row.Scan(&item.ProductID, &price, &item.Quantity)
	item.Price = price
	return item, err
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

const (
	reserveStockSQL = `UPDATE products SET quantity = quantity - ?2
		WHERE id = ?1 AND quantity >= ?2
		RETURNING id, name, price, quantity`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = ?)`

	createOrderSQL = `INSERT INTO orders (id, customer_id, created_at) VALUES (?, ?, ?)`

	createOrderItemSQL = `INSERT INTO order_items (order_id, position, product_id, price, quantity)
		VALUES (?, ?, ?, ?, ?)`

	upsertCustomerSQL = `INSERT INTO customers (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`

	upsertProductSQL = `INSERT INTO products (id, name, price, quantity) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price, quantity = excluded.quantity`
)

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs order placements in SQLite transactions.
type Transactor struct {
	db  *sql.DB
	now func() time.Time
}

// NewTransactor returns a Transactor over db.
func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db, now: time.Now}
}

// InTx commits when fn returns nil and rolls back otherwise.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) (rerr error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, &sqliteTx{tx: tx, now: t.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) Reserve(ctx context.Context, reservations []order.Reservation) ([]product.Product, error) {
	var (
		updated = make([]product.Product, 0, len(reservations))
		short   []string
	)
	for _, r := range reservations {
		p, err := scanProduct(t.tx.QueryRowContext(ctx, reserveStockSQL, r.ProductID, r.Quantity))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			short = append(short, r.ProductID)
		case err != nil:
			return nil, fmt.Errorf("reserving product %q: %w", r.ProductID, err)
		default:
			updated = append(updated, p)
		}
	}
	if len(short) == 0 {
		return updated, nil
	}

	var missing []string
	for _, id := range short {
		var exists bool
		if err := t.tx.QueryRowContext(ctx, productExistsSQL, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("checking product %q: %w", id, err)
		}
		if !exists {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &order.ProductNotFoundError{ProductIDs: missing}
	}
	return nil, &order.InsufficientStockError{ProductIDs: short}
}

func (t *sqliteTx) CreateOrder(ctx context.Context, customerID string, items []order.LineItem) (*order.Order, error) {
	o := &order.Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Items:      items,
		CreatedAt:  t.now().UTC(),
	}

	if _, err := t.tx.ExecContext(ctx, createOrderSQL, o.ID, customerID, o.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	stmt, err := t.tx.PrepareContext(ctx, createOrderItemSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing order items: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, item := range items {
		if _, err := stmt.ExecContext(ctx, o.ID, i, item.ProductID, item.Price, item.Quantity); err != nil {
			return nil, fmt.Errorf("creating item %d of order %q: %w", i, o.ID, err)
		}
	}

	return o, nil
}

// Seed upserts customers and products in one transaction, overwriting stock.
func Seed(ctx context.Context, db *sql.DB, customers []customer.Customer, products []product.Product) (rerr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, c := range customers {
		if _, err := tx.ExecContext(ctx, upsertCustomerSQL, c.ID, c.Name); err != nil {
			return fmt.Errorf("seeding customer %q: %w", c.ID, err)
		}
	}
	for _, p := range products {
		if _, err := tx.ExecContext(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Quantity); err != nil {
			return fmt.Errorf("seeding product %q: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

const (
	// The guard in the WHERE clause makes the availability check and the
	// decrement one atomic step under the row lock.
	reserveStockSQL = `UPDATE products SET quantity = quantity - $2
		WHERE id = $1 AND quantity >= $2
		RETURNING id, name, price, quantity`

	existingProductsSQL = `SELECT id FROM products WHERE id = ANY($1)`

	createOrderSQL = `INSERT INTO orders (id, customer_id) VALUES ($1, $2) RETURNING created_at`
)

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs order placements in PostgreSQL transactions.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor that uses the given pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Stock rows are locked by the
// guarded updates, so a stronger isolation level is not needed.
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

// Reserve sends every guarded update in one batch, in the order given.
func (t *pgTx) Reserve(ctx context.Context, reservations []order.Reservation) ([]product.Product, error) {
	batch := &pgx.Batch{}
	for _, r := range reservations {
		batch.Queue(reserveStockSQL, r.ProductID, r.Quantity)
	}

	br := t.tx.SendBatch(ctx, batch)
	var (
		updated = make([]product.Product, 0, len(reservations))
		short   []string
	)
	for _, r := range reservations {
		rows, err := br.Query()
		if err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("reserving product %q: %w", r.ProductID, err)
		}
		p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			short = append(short, r.ProductID)
		case err != nil:
			_ = br.Close()
			return nil, fmt.Errorf("reserving product %q: %w", r.ProductID, err)
		default:
			updated = append(updated, p)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("reserving stock: %w", err)
	}

	if len(short) == 0 {
		return updated, nil
	}
	if err := t.checkExist(ctx, short); err != nil {
		return nil, err
	}
	return nil, &order.InsufficientStockError{ProductIDs: short}
}

// checkExist separates products that vanished from the catalog from those
// that are merely short.
func (t *pgTx) checkExist(ctx context.Context, ids []string) error {
	rows, err := t.tx.Query(ctx, existingProductsSQL, ids)
	if err != nil {
		return fmt.Errorf("checking products: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("checking products: %w", err)
	}
	if len(found) == len(ids) {
		return nil
	}

	exists := make(map[string]struct{}, len(found))
	for _, id := range found {
		exists[id] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := exists[id]; !ok {
			missing = append(missing, id)
		}
	}
	return &order.ProductNotFoundError{ProductIDs: missing}
}

// CreateOrder inserts the order header and copies its line items with their
// positions.
func (t *pgTx) CreateOrder(ctx context.Context, customerID string, items []order.LineItem) (*order.Order, error) {
	o := &order.Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Items:      items,
	}

	if err := t.tx.QueryRow(ctx, createOrderSQL, o.ID, customerID).Scan(&o.CreatedAt); err != nil {
		return nil, fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	o.CreatedAt = o.CreatedAt.UTC()

	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"order_items"},
		[]string{"order_id", "position", "product_id", "price", "quantity"},
		pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
			return []any{o.ID, i, items[i].ProductID, items[i].Price, items[i].Quantity}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}

	return o, nil
}

func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	// invalid_text_representation
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

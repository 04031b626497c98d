package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/product"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a persisted customer order. Items are written once and never
// modified afterwards.
type Order struct {
	ID         string
	CustomerID string
	Items      []LineItem
	CreatedAt  time.Time
}

// LineItem is the price and quantity of one product, captured when the order
// was placed.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Reservation asks the store to take Quantity units of a product out of stock.
type Reservation struct {
	ProductID string
	Quantity  int
}

// Tx is the set of writes that make up one order placement. All of them
// become visible together or not at all.
type Tx interface {
	// Reserve decrements stock for every reservation, but only where the
	// available quantity covers the request. If any product is short it
	// returns *InsufficientStockError naming all of them.
	Reserve(ctx context.Context, reservations []Reservation) ([]product.Product, error)
	// CreateOrder persists an order with exactly the given line items.
	CreateOrder(ctx context.Context, customerID string, items []LineItem) (*Order, error)
}

// Transactor runs fn inside a single store transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository defines read operations for persisted orders.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
}

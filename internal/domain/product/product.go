package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item together with its available stock.
//
// Quantity is never negative. It only changes through an order reservation.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// FindAllByID returns the products matching ids. Unknown ids are skipped,
	// so callers detect missing products by comparing against the input.
	FindAllByID(ctx context.Context, ids []string) ([]Product, error)
}

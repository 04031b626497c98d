package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is the buyer an order is placed for.
type Customer struct {
	ID   string
	Name string
}

// Repository resolves customers by identifier.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Customer, error)
}

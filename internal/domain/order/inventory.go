package order

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/product"
)

// reserveStock takes the stock for every line item inside tx and returns the
// updated products. The store re-checks availability under the same statement
// that writes the new quantity, so a placement that passed validation can
// still fail here when a concurrent order got the stock first.
func reserveStock(ctx context.Context, tx Tx, items []LineItem) ([]product.Product, error) {
	reservations := make([]Reservation, len(items))
	for i, item := range items {
		reservations[i] = Reservation{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
	}
	// Stable lock order across placements that share products.
	slices.SortFunc(reservations, func(a, b Reservation) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	updated, err := tx.Reserve(ctx, reservations)
	if err != nil {
		var (
			insufficient *InsufficientStockError
			missing      *ProductNotFoundError
		)
		switch {
		case errors.As(err, &insufficient):
			return nil, insufficient
		case errors.As(err, &missing):
			return nil, missing
		}
		return nil, errors.Wrap(err, "reserve stock")
	}

	if len(updated) != len(reservations) {
		return nil, errors.Errorf("reserve stock: updated %d products, want %d", len(updated), len(reservations))
	}
	for _, p := range updated {
		if p.Quantity < 0 {
			return nil, errors.Errorf("reserve stock: product %s has negative quantity %d", p.ID, p.Quantity)
		}
	}

	return updated, nil
}

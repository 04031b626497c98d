package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

// Validator checks a placement against the customer and product catalogs.
// It never writes.
type Validator struct {
	customers customer.Repository
	products  product.Repository
}

// NewValidator creates a Validator over the given lookups.
func NewValidator(customers customer.Repository, products product.Repository) *Validator {
	return &Validator{
		customers: customers,
		products:  products,
	}
}

// ResolveCustomer returns the customer with the given id, or
// *CustomerNotFoundError if there is none.
func (v *Validator) ResolveCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	c, err := v.customers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return nil, &CustomerNotFoundError{CustomerID: id}
		}
		return nil, errors.Wrap(err, "get customer")
	}
	return c, nil
}

// ResolveProducts fetches all ids in a single batch and returns the products
// in the order of ids. Any id that did not resolve is reported in a
// *ProductNotFoundError.
func (v *Validator) ResolveProducts(ctx context.Context, ids []string) ([]product.Product, error) {
	fetched, err := v.products.FindAllByID(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	var (
		products = make([]product.Product, 0, len(ids))
		missing  []string
	)
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		products = append(products, p)
	}
	if len(missing) > 0 {
		return nil, &ProductNotFoundError{ProductIDs: missing}
	}

	return products, nil
}

// CheckSufficiency computes available minus requested for every product and
// reports all products that come out negative in one *InsufficientStockError.
func CheckSufficiency(products []product.Product, items []ItemRequest) error {
	requested := make(map[string]int, len(items))
	for _, item := range items {
		requested[item.ProductID] = item.Quantity
	}

	var deficient []string
	for _, p := range products {
		if p.Quantity-requested[p.ID] < 0 {
			deficient = append(deficient, p.ID)
		}
	}
	if len(deficient) > 0 {
		return &InsufficientStockError{ProductIDs: deficient}
	}
	return nil
}

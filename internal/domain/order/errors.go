package order

import (
	"fmt"
	"strings"

	"github.com/xenking/oolio-orders/internal/domain/product"
)

// InvalidRequestError indicates a malformed placement request: no items, a
// blank identifier, a non-positive quantity or a repeated product.
type InvalidRequestError struct {
	ProductID string
	Reason    string
}

func (e *InvalidRequestError) Error() string {
	if e.ProductID == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s for product %s", e.Reason, e.ProductID)
}

// CustomerNotFoundError indicates the ordering customer does not exist.
type CustomerNotFoundError struct {
	CustomerID string
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.CustomerID)
}

// ProductNotFoundError lists requested products missing from the catalog,
// either at validation or when the reservation finds them gone at commit.
type ProductNotFoundError struct {
	ProductIDs []string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("products not found: %s", strings.Join(e.ProductIDs, ", "))
}

// Is matches product.ErrNotFound.
func (e *ProductNotFoundError) Is(target error) bool {
	return target == product.ErrNotFound
}

// InsufficientStockError lists every requested product whose available
// quantity does not cover the request. It is returned both by validation and
// by the reservation at commit time.
type InsufficientStockError struct {
	ProductIDs []string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for products: %s", strings.Join(e.ProductIDs, ", "))
}

// IsDomainError reports whether err is a rejection of the request itself,
// as opposed to an infrastructure failure.
func IsDomainError(err error) bool {
	return err != nil && rejectionReason(err) != "internal"
}

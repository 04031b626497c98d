// Package handler exposes order placement and catalog reads over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
	"github.com/xenking/oolio-orders/internal/idempotency"
)

// maxBodyBytes limits the size of request bodies.
const maxBodyBytes = 1 << 20

// OrderPlacer places orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.View, error)
}

// Handler serves the order and product endpoints.
type Handler struct {
	placer   OrderPlacer
	orders   order.Repository
	products product.Repository
	keys     idempotency.Store
}

// NewHandler returns a Handler. keys may be nil, in which case the
// Idempotency-Key header is ignored.
func NewHandler(
	placer OrderPlacer,
	orders order.Repository,
	products product.Repository,
	keys idempotency.Store,
) *Handler {
	return &Handler{
		placer:   placer,
		orders:   orders,
		products: products,
		keys:     keys,
	}
}

// Register mounts the API routes on r. placement wraps POST /api/order only.
func (h *Handler) Register(r chi.Router, placement ...func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.With(placement...).Post("/order", h.PlaceOrder)
		r.Get("/order/{orderId}", h.GetOrder)
		r.Get("/product/{productId}", h.GetProduct)
	})
}

// Routes returns a router with only the API routes mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

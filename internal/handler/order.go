package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/idempotency"
)

// IdempotencyKeyHeader carries the client key that deduplicates placements.
const IdempotencyKeyHeader = "Idempotency-Key"

// PlaceOrder handles POST /api/order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}
	req, err := decodePlaceOrder(body)
	if err != nil {
		lg.Debug("Malformed order request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		key   = r.Header.Get(IdempotencyKeyHeader)
		claim idempotency.Claim
	)
	if key != "" && h.keys != nil {
		claim, err = h.keys.Begin(ctx, key, fingerprint(req))
		switch {
		case errors.Is(err, idempotency.ErrInFlight):
			writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		case errors.Is(err, idempotency.ErrKeyReused):
			writeError(w, http.StatusUnprocessableEntity, "idempotency key was used for a different request")
			return
		case err != nil:
			lg.Error("Claim idempotency key", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		case claim.OrderID != "":
			h.replay(w, r, claim.OrderID)
			return
		}
	}

	view, err := h.placer.PlaceOrder(ctx, req)

	// The claim must be settled even when the client has gone away.
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		if claim.Token != "" {
			if rerr := h.keys.Release(settleCtx, key, claim.Token); rerr != nil {
				lg.Warn("Release idempotency key", zap.Error(rerr))
			}
		}
		h.writePlaceError(w, r, err)
		return
	}

	if claim.Token != "" {
		if err := h.keys.Complete(settleCtx, key, claim.Token, view.ID); err != nil {
			lg.Warn("Complete idempotency key", zap.Error(err), zap.String("order_id", view.ID))
		}
	}

	lg.Info("Order placed",
		zap.String("order_id", view.ID),
		zap.Int("items", len(view.Items)),
	)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeView(e, view) })
}

// replay answers a resubmission with the order placed under the same key.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request, orderID string) {
	o, err := h.orders.GetByID(r.Context(), orderID)
	if err != nil {
		zctx.From(r.Context()).Error("Load replayed order", zap.Error(err), zap.String("order_id", orderID))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeView(e, order.NewView(o)) })
}

// GetOrder handles GET /api/order/{orderId}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderId")

	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(r.Context()).Error("Get order", zap.Error(err), zap.String("order_id", id))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeView(e, order.NewView(o)) })
}

// writePlaceError maps placement errors to responses. Rejections are logged
// at debug level and infrastructure failures at error level.
func (h *Handler) writePlaceError(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())

	var (
		invalid      *order.InvalidRequestError
		noCustomer   *order.CustomerNotFoundError
		noProduct    *order.ProductNotFoundError
		insufficient *order.InsufficientStockError
	)
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &noCustomer):
		writeError(w, http.StatusUnprocessableEntity, noCustomer.Error())
	case errors.As(err, &noProduct):
		writeError(w, http.StatusUnprocessableEntity, "products not found", noProduct.ProductIDs...)
	case errors.As(err, &insufficient):
		writeError(w, http.StatusConflict, "insufficient stock", insufficient.ProductIDs...)
	default:
		lg.Error("Place order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	lg.Debug("Order rejected", zap.Error(err))
}

// fingerprint identifies the placement a request asks for, independent of
// JSON formatting.
func fingerprint(req order.PlaceOrderRequest) string {
	h := sha256.New()
	h.Write([]byte(req.CustomerID))
	for _, item := range req.Items {
		h.Write([]byte{0})
		h.Write([]byte(item.ProductID))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(item.Quantity)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

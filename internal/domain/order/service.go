package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/product"
)

const instrumentationName = "github.com/xenking/oolio-orders/internal/domain/order"

// Stage is a step of the placement state machine.
type Stage string

// Placement stages. Persisted and Rejected are terminal.
const (
	StageValidating Stage = "validating"
	StageReserving  Stage = "reserving"
	StagePersisted  Stage = "persisted"
	StageRejected   Stage = "rejected"
)

// ItemRequest is one requested product line.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	CustomerID string
	Items      []ItemRequest
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the provider used for placement spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the provider used for placement counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithCommitTimeout bounds the duration of the commit transaction.
// Zero means the caller's context is the only limit.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *Service) { s.commitTimeout = d }
}

// Service places orders. It is safe for concurrent use; consistency of stock
// under concurrent placements comes from the store transaction, not from any
// locking here.
type Service struct {
	validator     *Validator
	store         Transactor
	commitTimeout time.Duration

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	placed         metric.Int64Counter
	rejected       metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	customers customer.Repository,
	products product.Repository,
	store Transactor,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		validator:      NewValidator(customers, products),
		store:          store,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed together with their stock reservation"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	if s.rejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order placements that ended without a committed order"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.rejected counter")
	}

	return s, nil
}

// PlaceOrder validates the request against the customer and product
// catalogs, snapshots current prices into line items, and commits the order
// together with the stock reservation. Either both are persisted or neither.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *View, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.Int("order.items", len(req.Items)),
	))
	defer span.End()

	stage := StageValidating
	span.AddEvent(string(stage))
	defer func() {
		if rerr != nil {
			s.reject(ctx, span, stage, rerr)
		}
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	c, err := s.validator.ResolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		ids[i] = item.ProductID
	}
	products, err := s.validator.ResolveProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	if err := CheckSufficiency(products, req.Items); err != nil {
		return nil, err
	}

	items := snapshot(products, req.Items)

	stage = StageReserving
	span.AddEvent(string(stage))

	o, err := s.commit(ctx, c.ID, items)
	if err != nil {
		return nil, err
	}

	span.AddEvent(string(StagePersisted), trace.WithAttributes(attribute.String("order.id", o.ID)))
	s.placed.Add(ctx, 1)

	return NewView(o), nil
}

// commit reserves stock and writes the order in one transaction.
func (s *Service) commit(ctx context.Context, customerID string, items []LineItem) (*Order, error) {
	if s.commitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commitTimeout)
		defer cancel()
	}

	var placed *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := reserveStock(ctx, tx, items); err != nil {
			return err
		}

		o, err := tx.CreateOrder(ctx, customerID, items)
		if err != nil {
			return errors.Wrap(err, "create order")
		}
		placed = o
		return nil
	})
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
		return nil, errors.Wrap(err, "commit order")
	}

	return placed, nil
}

func (s *Service) reject(ctx context.Context, span trace.Span, stage Stage, err error) {
	reason := rejectionReason(err)
	span.AddEvent(string(StageRejected), trace.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("reason", reason),
	))
	if reason == "internal" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("reason", reason),
	))
}

// validateRequest checks the request shape before any lookup is made.
func validateRequest(req PlaceOrderRequest) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return &InvalidRequestError{Reason: "customer id required"}
	}
	if len(req.Items) == 0 {
		return &InvalidRequestError{Reason: "items required"}
	}

	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return &InvalidRequestError{Reason: "product id required"}
		}
		if item.Quantity <= 0 {
			return &InvalidRequestError{ProductID: item.ProductID, Reason: "quantity must be greater than 0"}
		}
		if _, dup := seen[item.ProductID]; dup {
			return &InvalidRequestError{ProductID: item.ProductID, Reason: "duplicate line"}
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

// snapshot builds line items in request order, taking the price from the
// product as it was read for this placement.
func snapshot(products []product.Product, items []ItemRequest) []LineItem {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	out := make([]LineItem, len(items))
	for i, item := range items {
		out[i] = LineItem{
			ProductID: item.ProductID,
			Price:     byID[item.ProductID].Price,
			Quantity:  item.Quantity,
		}
	}
	return out
}

func rejectionReason(err error) string {
	var (
		invalid      *InvalidRequestError
		noCustomer   *CustomerNotFoundError
		noProduct    *ProductNotFoundError
		insufficient *InsufficientStockError
	)
	switch {
	case errors.As(err, &invalid):
		return "invalid_request"
	case errors.As(err, &noCustomer):
		return "customer_not_found"
	case errors.As(err, &noProduct):
		return "product_not_found"
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	default:
		return "internal"
	}
}

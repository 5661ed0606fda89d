package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const (
	instrumentationName = "github.com/xenking/storefront/internal/domain/order"

	// maxAttempts bounds the read-modify-write retries on version conflicts.
	maxAttempts = 3
)

// CartSource loads the cart a checkout may be built from.
type CartSource interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
}

// LineRequest is one requested order line.
type LineRequest struct {
	ProductID string
	Quantity  int
	Variant   *cart.Variant
}

// CreateRequest holds the input for placing an order. When FromCart is set
// the lines (and, unless CouponCode is given, the coupon) are taken from the
// actor's cart and Items is ignored.
type CreateRequest struct {
	Items           []LineRequest
	FromCart        bool
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	CouponCode      string
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCouponRedeemed registers fn to run after a checkout that redeemed a
// coupon has committed. Errors are logged and do not fail the checkout.
func WithCouponRedeemed(fn func(ctx context.Context, code string) error) Option {
	return func(s *Service) { s.couponRedeemed = fn }
}

// Service encapsulates order placement and the order status state machine.
type Service struct {
	store    Store
	products catalog.Repository
	carts    CartSource
	coupons  coupon.Resolver
	policy   pricing.Policy
	now      func() time.Time

	couponRedeemed func(ctx context.Context, code string) error

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	tracer      trace.Tracer
	created     metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	store Store,
	products catalog.Repository,
	carts CartSource,
	coupons coupon.Resolver,
	policy pricing.Policy,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		store:          store,
		products:       products,
		carts:          carts,
		coupons:        coupons,
		policy:         policy,
		now:            time.Now,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.transitions, err = meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.transitions counter")
	}

	return s, nil
}

// Create validates the requested lines, prices them, and places the order.
// Stock decrement, order number allocation, coupon redemption, the order
// itself, its outbox event and clearing the cart commit as one transaction.
func (s *Service) Create(ctx context.Context, actor auth.Identity, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer func() { endSpan(span, rerr) }()

	if req.FromCart {
		if err := s.fillFromCart(ctx, actor.UserID, &req); err != nil {
			return nil, err
		}
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if !req.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}
	if !req.ShippingAddress.complete() {
		return nil, ErrInvalidAddress
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		if err := item.Variant.Validate(); err != nil {
			return nil, errors.Wrapf(err, "product %s", item.ProductID)
		}
		ids[i] = item.ProductID
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Quantities per product across variants, for the stock check and decrement.
	wanted := make(map[string]int, len(req.Items))
	productOrder := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if _, seen := wanted[item.ProductID]; !seen {
			productOrder = append(productOrder, item.ProductID)
		}
		wanted[item.ProductID] += item.Quantity
	}

	items := make([]Item, 0, len(req.Items))
	lines := make([]pricing.Line, 0, len(req.Items))
	for _, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok || !p.Listed() {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if p.Stock < wanted[p.ID] {
			return nil, &InsufficientStockError{
				ProductID: p.ID,
				Requested: wanted[p.ID],
				Available: p.Stock,
			}
		}

		unit := p.Price
		if item.Variant != nil {
			unit = unit.Add(item.Variant.AdditionalPrice)
		}
		items = append(items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Price:     unit,
			Quantity:  item.Quantity,
			Variant:   item.Variant,
		})
		lines = append(lines, pricing.Line{UnitPrice: unit, Quantity: item.Quantity})
	}

	itemsPrice := pricing.Subtotal(lines)

	discount := decimal.Zero
	code := coupon.Normalize(req.CouponCode)
	if code != "" {
		d, err := s.coupons.Resolve(ctx, code, itemsPrice)
		if err != nil {
			return nil, errors.Wrap(err, "resolve coupon")
		}
		discount = d.Amount
	}

	b := s.policy.Compute(itemsPrice, discount)
	now := s.now()

	o := &Order{
		ID:              uuid.New().String(),
		UserID:          actor.UserID,
		UserEmail:       actor.Email,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      code,
		ItemsPrice:      b.Subtotal,
		TaxPrice:        b.Tax,
		ShippingPrice:   b.Shipping,
		DiscountAmount:  b.Discount,
		TotalPrice:      b.Total,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.appendHistory(StatusPending, now, "Order created", actor.UserID)

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, id := range productOrder {
			if err := tx.DecrementStock(ctx, id, wanted[id]); err != nil {
				if errors.Is(err, catalog.ErrInsufficientStock) {
					return &InsufficientStockError{ProductID: id, Requested: wanted[id], Available: -1}
				}
				return errors.Wrapf(err, "decrement stock %s", id)
			}
		}

		seq, err := tx.NextSequence(ctx, sequenceDay(now))
		if err != nil {
			return errors.Wrap(err, "next order sequence")
		}
		o.OrderNumber = FormatNumber(now, seq)

		if code != "" {
			if err := tx.RedeemCoupon(ctx, code); err != nil {
				return errors.Wrap(err, "redeem coupon")
			}
		}
		if err := tx.Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		if err := tx.Enqueue(ctx, NewEvent(EventCreated, o, now)); err != nil {
			return errors.Wrap(err, "enqueue event")
		}
		if err := tx.ClearCart(ctx, actor.UserID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if code != "" && s.couponRedeemed != nil {
		if err := s.couponRedeemed(ctx, code); err != nil {
			zctx.From(ctx).Warn("Coupon redeemed hook failed",
				zap.String("order_id", o.ID),
				zap.String("coupon", code),
				zap.Error(err),
			)
		}
	}

	s.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", string(o.PaymentMethod)),
	))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("user_id", o.UserID),
		zap.String("total", o.TotalPrice.StringFixed(2)),
	)

	return o, nil
}

func (s *Service) fillFromCart(ctx context.Context, userID string, req *CreateRequest) error {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return ErrEmptyItems
		}
		return errors.Wrap(err, "get cart")
	}

	req.Items = make([]LineRequest, 0, len(c.Items))
	for _, it := range c.Items {
		req.Items = append(req.Items, LineRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Variant:   it.Variant,
		})
	}
	if req.CouponCode == "" {
		req.CouponCode = c.CouponCode
	}
	return nil
}

// Get returns an order visible to the actor.
func (s *Service) Get(ctx context.Context, actor auth.Identity, id string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, o) {
		return nil, ErrUnauthorized
	}
	return o, nil
}

// ListMine returns the actor's orders, newest first.
func (s *Service) ListMine(ctx context.Context, actor auth.Identity) ([]Order, error) {
	orders, err := s.store.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// ListAll returns orders across all users. Admin only.
func (s *Service) ListAll(ctx context.Context, actor auth.Identity, filter ListFilter) ([]Order, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errors.Wrapf(ErrInvalidStatus, "%q", filter.Status)
	}
	orders, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

func canAccess(actor auth.Identity, o *Order) bool {
	return actor.IsAdmin() || (actor.UserID != "" && actor.UserID == o.UserID)
}

func (a Address) complete() bool {
	for _, v := range []string{a.FullName, a.Street, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

func sequenceDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FormatNumber renders the human-readable order number for the seq-th order
// placed on the day of t.
func FormatNumber(t time.Time, seq int) string {
	return fmt.Sprintf("ORD%s%04d", t.UTC().Format("060102"), seq)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

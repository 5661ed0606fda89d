package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentPayPal         PaymentMethod = "paypal"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentPayPal, PaymentCashOnDelivery:
		return true
	}
	return false
}

// Refundable reports whether payments made with m can be refunded.
func (m PaymentMethod) Refundable() bool {
	return m != PaymentCashOnDelivery
}

// Item is an immutable order line. Price is the unit price including any
// variant surcharge, captured at checkout.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Variant   *cart.Variant   `json:"variant,omitempty"`
}

// Address is a shipping destination.
type Address struct {
	FullName   string `json:"full_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// PaymentResult is the last payment gateway outcome recorded on an order.
type PaymentResult struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HistoryEntry is one record of the append-only status log.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
	Actor     string    `json:"actor"`
}

// Order is a priced, placed order and its fulfillment state.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	UserEmail   string

	Items           []Item
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	CouponCode      string

	ItemsPrice     decimal.Decimal
	TaxPrice       decimal.Decimal
	ShippingPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalPrice     decimal.Decimal

	Status        Status
	IsPaid        bool
	PaidAt        *time.Time
	PaymentResult *PaymentResult

	ShippedAt      *time.Time
	TrackingNumber string
	IsDelivered    bool
	DeliveredAt    *time.Time

	CancelledAt        *time.Time
	CancellationReason string
	RefundedAt         *time.Time
	RefundReason       string

	StatusHistory []HistoryEntry

	// Version is the optimistic concurrency token. Zero means never stored.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// appendHistory records a status change. Existing entries are never edited.
func (o *Order) appendHistory(status Status, at time.Time, note, actor string) {
	o.StatusHistory = append(o.StatusHistory, HistoryEntry{
		Status:    status,
		Timestamp: at,
		Note:      note,
		Actor:     actor,
	})
}

// ListFilter narrows admin order listings.
type ListFilter struct {
	Status Status
	Limit  int
}

// Repository defines read operations for orders.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
}

// Tx groups the writes that must commit or roll back together.
type Tx interface {
	// DecrementStock atomically decrements stock if at least qty units are
	// available, returning catalog.ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
	// NextSequence atomically increments and returns the counter for day.
	NextSequence(ctx context.Context, day string) (int, error)
	RedeemCoupon(ctx context.Context, code string) error
	Insert(ctx context.Context, o *Order) error
	// Update writes o if the stored version still equals o.Version and
	// advances o.Version. It returns ErrVersionConflict otherwise.
	Update(ctx context.Context, o *Order) error
	ClearCart(ctx context.Context, userID string) error
	// Enqueue records an event in the outbox.
	Enqueue(ctx context.Context, e Event) error
}

// Store is the persistence boundary of the order engine.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Package cart implements per-user shopping carts and their pricing.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

const (
	// MinQuantity and MaxQuantity bound the quantity of a single line.
	MinQuantity = 1
	MaxQuantity = 10

	// AbandonedAfter is how long an empty cart may sit idle before it is purged.
	AbandonedAfter = 30 * 24 * time.Hour
)

var (
	// ErrNotFound is returned by a Repository when the user has no cart yet.
	ErrNotFound = errors.New("cart not found")
	// ErrItemNotFound is returned when a line does not exist in the cart.
	ErrItemNotFound = errors.New("item not found in cart")
	// ErrItemUnavailable is returned when a product is inactive or lacks stock.
	ErrItemUnavailable = errors.New("item unavailable")
	// ErrInvalidQuantity is returned for a non-positive quantity on add.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrInvalidVariant is returned for a variant with a negative surcharge.
	ErrInvalidVariant = errors.New("variant additional price must not be negative")
	// ErrVersionConflict is returned by Repository.Save when the stored cart
	// changed since it was loaded.
	ErrVersionConflict = errors.New("cart version conflict")
)

// Variant is an optional product option such as size or colour.
type Variant struct {
	Name            string          `json:"name"`
	Value           string          `json:"value"`
	AdditionalPrice decimal.Decimal `json:"additional_price"`
}

// Item is a single line in a cart. Name, Image and Price are snapshotted at
// the time the product was added.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Variant   *Variant        `json:"variant,omitempty"`
	AddedAt   time.Time       `json:"added_at"`
}

// Validate reports whether v is acceptable on a line. A nil variant is valid.
func (v *Variant) Validate() error {
	if v != nil && v.AdditionalPrice.IsNegative() {
		return ErrInvalidVariant
	}
	return nil
}

// UnitPrice is the product price plus any variant surcharge.
func (i Item) UnitPrice() decimal.Decimal {
	if i.Variant == nil {
		return i.Price
	}
	return i.Price.Add(i.Variant.AdditionalPrice)
}

func (i Item) matches(productID string, v *Variant) bool {
	if i.ProductID != productID {
		return false
	}
	if i.Variant == nil || v == nil {
		return i.Variant == nil && v == nil
	}
	return i.Variant.Name == v.Name && i.Variant.Value == v.Value
}

// Cart is a user's mutable selection of items. The monetary fields are
// derived and recomputed after every mutation.
type Cart struct {
	UserID     string
	Items      []Item
	CouponCode string
	Discount   decimal.Decimal
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	Total      decimal.Decimal
	// Version is the optimistic concurrency token. Zero means never stored.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an empty cart for userID.
func New(userID string, now time.Time) *Cart {
	return &Cart{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsEmpty reports whether the cart holds no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount returns the total quantity across lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// find returns the index of the line for (productID, variant) or -1.
func (c *Cart) find(productID string, v *Variant) int {
	for i, it := range c.Items {
		if it.matches(productID, v) {
			return i
		}
	}
	return -1
}

func (c *Cart) remove(idx int) {
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
}

// lines converts the items for subtotal computation.
func (c *Cart) lines() []pricing.Line {
	out := make([]pricing.Line, len(c.Items))
	for i, it := range c.Items {
		l := pricing.Line{UnitPrice: it.Price, Quantity: it.Quantity}
		if it.Variant != nil {
			l.AdditionalPrice = it.Variant.AdditionalPrice
		}
		out[i] = l
	}
	return out
}

// recalculate refreshes the derived monetary fields from the items and the
// current discount.
func (c *Cart) recalculate(p pricing.Policy) {
	b := p.Compute(pricing.Subtotal(c.lines()), c.Discount)
	c.Subtotal = b.Subtotal
	c.Tax = b.Tax
	c.Shipping = b.Shipping
	c.Discount = b.Discount
	c.Total = b.Total
}

// Reset empties the cart after checkout: no lines, no coupon, zero totals.
func (c *Cart) Reset(now time.Time) {
	c.Items = nil
	c.dropCoupon()
	c.Subtotal = decimal.Zero
	c.Tax = decimal.Zero
	c.Shipping = decimal.Zero
	c.Total = decimal.Zero
	c.UpdatedAt = now
}

func (c *Cart) dropCoupon() {
	c.CouponCode = ""
	c.Discount = decimal.Zero
}

func clampQuantity(q int) int {
	switch {
	case q < MinQuantity:
		return MinQuantity
	case q > MaxQuantity:
		return MaxQuantity
	}
	return q
}

// Repository persists carts. Save performs a compare-and-swap on Version:
// a cart with Version 0 is inserted, otherwise the stored row must still
// carry c.Version. On success c.Version is advanced.
type Repository interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, userID string) error
	DeleteAbandoned(ctx context.Context, idleSince time.Time) (int, error)
}

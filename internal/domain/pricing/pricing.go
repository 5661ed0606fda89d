// Package pricing holds the monetary arithmetic shared by carts and orders.
package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Policy describes how tax and shipping are derived from a subtotal.
type Policy struct {
	// TaxRate is a fraction, e.g. 0.08 for 8%.
	TaxRate decimal.Decimal
	// FreeShippingThreshold is the subtotal from which shipping is free.
	FreeShippingThreshold decimal.Decimal
	// ShippingFee is charged when the subtotal is below the threshold.
	ShippingFee decimal.Decimal
}

// DefaultPolicy is 8% tax with flat $10 shipping waived at $100.
var DefaultPolicy = Policy{
	TaxRate:               decimal.RequireFromString("0.08"),
	FreeShippingThreshold: decimal.NewFromInt(100),
	ShippingFee:           decimal.NewFromInt(10),
}

// Breakdown is the full monetary summary of a cart or an order.
type Breakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Line is one priced row used to compute a subtotal.
type Line struct {
	UnitPrice       decimal.Decimal
	AdditionalPrice decimal.Decimal
	Quantity        int
}

// Subtotal returns Σ (unit + additional) × quantity.
func Subtotal(lines []Line) decimal.Decimal {
	sum := zero
	for _, l := range lines {
		unit := l.UnitPrice.Add(l.AdditionalPrice)
		sum = sum.Add(unit.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum.Round(2)
}

// Compute derives tax, shipping and total for the subtotal and an already
// resolved discount. An empty subtotal carries no shipping.
func (p Policy) Compute(subtotal, discount decimal.Decimal) Breakdown {
	subtotal = subtotal.Round(2)
	discount = discount.Round(2)

	tax := subtotal.Mul(p.TaxRate).Round(2)

	shipping := p.ShippingFee
	if subtotal.IsZero() || subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = zero
	}

	total := subtotal.Add(tax).Add(shipping).Sub(discount).Round(2)

	return Breakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    total,
	}
}

// Percent returns amount × pct / 100 rounded to cents.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(2)
}

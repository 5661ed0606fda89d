package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

var zero = decimal.Zero

// Apply calculates the discount for the given rule and subtotal. It returns
// ErrCouponMinimumNotMet when the subtotal is below the rule's minimum.
func Apply(rule *Rule, subtotal decimal.Decimal) (Discount, error) {
	if subtotal.LessThan(rule.MinAmount) {
		return Discount{}, ErrCouponMinimumNotMet
	}

	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = pricing.Percent(subtotal, rule.Value)
	case DiscountFixed:
		// Flat discounts never exceed the subtotal.
		amount = decimal.Min(rule.Value, subtotal)
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	return Discount{
		Code:        rule.Code,
		Amount:      floorAtZero(amount).Round(2),
		Description: rule.Description,
	}, nil
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}

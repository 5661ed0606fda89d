package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Resolver turns a coupon code into a discount for a subtotal.
type Resolver interface {
	Resolve(ctx context.Context, code string, subtotal decimal.Decimal) (*Discount, error)
}

// RepoResolver implements Resolver by looking up coupon rules from a
// Repository and applying them via the Apply function.
type RepoResolver struct {
	repo Repository
	now  func() time.Time
}

var _ Resolver = (*RepoResolver)(nil)

// NewRepoResolver creates a RepoResolver backed by the given Repository.
func NewRepoResolver(repo Repository) *RepoResolver {
	return &RepoResolver{repo: repo, now: time.Now}
}

// Resolve looks up the coupon rule for the given code, checks temporal
// validity and usage limits, and applies it to the subtotal. It does not
// redeem the coupon; redemption happens when an order is placed.
func (r *RepoResolver) Resolve(ctx context.Context, code string, subtotal decimal.Decimal) (*Discount, error) {
	code = Normalize(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	rule, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := r.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, ErrCouponExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrCouponUsageLimitReached
	}

	d, err := Apply(rule, subtotal)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

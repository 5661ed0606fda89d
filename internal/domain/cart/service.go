package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// maxAttempts bounds the read-modify-write retries on version conflicts.
const maxAttempts = 3

// Service encapsulates cart mutation and pricing business logic.
type Service struct {
	carts    Repository
	products catalog.Repository
	coupons  coupon.Resolver
	policy   pricing.Policy
	now      func() time.Time
}

// NewService creates a cart Service with the required domain dependencies.
func NewService(
	carts Repository,
	products catalog.Repository,
	coupons coupon.Resolver,
	policy pricing.Policy,
) *Service {
	return &Service{
		carts:    carts,
		products: products,
		coupons:  coupons,
		policy:   policy,
		now:      time.Now,
	}
}

// Get returns the user's cart, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "get cart")
	}

	c = New(userID, s.now())
	c.recalculate(s.policy)
	if err := s.carts.Save(ctx, c); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			return nil, errors.Wrap(err, "create cart")
		}
		// Lost the race to a concurrent first access.
		return s.carts.Get(ctx, userID)
	}
	return c, nil
}

// AddItem adds quantity units of a product. An existing (product, variant)
// line is increased and capped at MaxQuantity; a new line requires an
// active product with enough stock.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int, variant *Variant) (*Cart, error) {
	if quantity < MinQuantity {
		return nil, ErrInvalidQuantity
	}
	if err := variant.Validate(); err != nil {
		return nil, err
	}
	quantity = clampQuantity(quantity)

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", productID)
	}

	return s.mutate(ctx, userID, func(c *Cart) error {
		if idx := c.find(productID, variant); idx >= 0 {
			c.Items[idx].Quantity = clampQuantity(c.Items[idx].Quantity + quantity)
			return nil
		}

		if !p.Purchasable() || p.Stock < quantity {
			return errors.Wrapf(ErrItemUnavailable, "product %s", productID)
		}

		c.Items = append(c.Items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Price:     p.Price,
			Quantity:  quantity,
			Variant:   variant,
			AddedAt:   s.now(),
		})
		return nil
	})
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero
// or less removes the line; anything else is clamped to [1, 10].
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, quantity int, variant *Variant) (*Cart, error) {
	if err := variant.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(c *Cart) error {
		idx := c.find(productID, variant)
		if idx < 0 {
			return ErrItemNotFound
		}
		if quantity <= 0 {
			c.remove(idx)
			return nil
		}
		c.Items[idx].Quantity = clampQuantity(quantity)
		return nil
	})
}

// RemoveItem drops a line if present.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string, variant *Variant) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		if idx := c.find(productID, variant); idx >= 0 {
			c.remove(idx)
		}
		return nil
	})
}

// Clear empties the cart and drops any applied coupon.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		c.Items = nil
		c.dropCoupon()
		return nil
	})
}

// ApplyCoupon attaches a coupon code. The cart is left untouched when the
// code does not resolve against the current subtotal.
func (s *Service) ApplyCoupon(ctx context.Context, userID, code string) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		subtotal := pricing.Subtotal(c.lines())
		d, err := s.coupons.Resolve(ctx, code, subtotal)
		if err != nil {
			return err
		}
		c.CouponCode = d.Code
		c.Discount = d.Amount
		return nil
	})
}

// RemoveCoupon detaches the current coupon, if any.
func (s *Service) RemoveCoupon(ctx context.Context, userID string) (*Cart, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		c.dropCoupon()
		return nil
	})
}

// PurgeAbandoned deletes empty carts that have been idle for AbandonedAfter.
func (s *Service) PurgeAbandoned(ctx context.Context) (int, error) {
	n, err := s.carts.DeleteAbandoned(ctx, s.now().Add(-AbandonedAfter))
	if err != nil {
		return 0, errors.Wrap(err, "delete abandoned carts")
	}
	return n, nil
}

// mutate loads (or lazily creates) the cart, applies fn, reprices and saves
// with a version check, retrying on conflict.
func (s *Service) mutate(ctx context.Context, userID string, fn func(c *Cart) error) (*Cart, error) {
	for attempt := 1; ; attempt++ {
		c, err := s.carts.Get(ctx, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			c = New(userID, s.now())
		case err != nil:
			return nil, errors.Wrap(err, "get cart")
		}

		if err := fn(c); err != nil {
			return nil, err
		}
		if err := s.reprice(ctx, c); err != nil {
			return nil, err
		}
		c.UpdatedAt = s.now()

		err = s.carts.Save(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxAttempts {
			return nil, errors.Wrap(err, "save cart")
		}
		zctx.From(ctx).Debug("Cart version conflict, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
		)
	}
}

// reprice re-resolves the applied coupon against the new subtotal and
// recomputes totals. A coupon that no longer qualifies is dropped.
func (s *Service) reprice(ctx context.Context, c *Cart) error {
	if c.CouponCode != "" {
		subtotal := pricing.Subtotal(c.lines())
		d, err := s.coupons.Resolve(ctx, c.CouponCode, subtotal)
		switch {
		case err == nil:
			c.Discount = d.Amount
		case isCouponRejection(err):
			zctx.From(ctx).Info("Dropping coupon that no longer applies",
				zap.String("user_id", c.UserID),
				zap.String("coupon", c.CouponCode),
				zap.Error(err),
			)
			c.dropCoupon()
		default:
			return errors.Wrap(err, "resolve coupon")
		}
	}
	c.recalculate(s.policy)
	return nil
}

func isCouponRejection(err error) bool {
	return errors.Is(err, coupon.ErrInvalidCoupon) ||
		errors.Is(err, coupon.ErrCouponMinimumNotMet) ||
		errors.Is(err, coupon.ErrCouponExpired) ||
		errors.Is(err, coupon.ErrCouponUsageLimitReached)
}

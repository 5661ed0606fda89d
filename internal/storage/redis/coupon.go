// Package redis caches coupon rules in Redis in front of another
// coupon.Repository.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// DefaultTTL bounds how stale a cached rule (and its use count) may be.
// Checkout redemption is still guarded by the backing store.
const DefaultTTL = time.Minute

var _ coupon.Repository = (*CouponCache)(nil)

// CouponCache is a read-through cache for coupon rules.
type CouponCache struct {
	coupon.Repository

	client *redis.Client
	ttl    time.Duration
}

// NewCouponCache wraps next with a Redis cache.
func NewCouponCache(next coupon.Repository, client *redis.Client, ttl time.Duration) *CouponCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CouponCache{Repository: next, client: client, ttl: ttl}
}

func couponKey(code string) string {
	return "coupon:" + code
}

// FindByCode serves from Redis when possible. Cache failures fall back to
// the backing repository.
func (c *CouponCache) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	code = coupon.Normalize(code)
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, couponKey(code)).Bytes()
	switch {
	case err == nil:
		rule, decodeErr := decodeRule(data)
		if decodeErr == nil {
			return rule, nil
		}
		lg.Warn("Discarding undecodable cached coupon", zap.String("code", code), zap.Error(decodeErr))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Coupon cache read failed", zap.String("code", code), zap.Error(err))
	}

	rule, err := c.Repository.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, couponKey(code), encodeRule(rule), c.ttl).Err(); err != nil {
		lg.Warn("Coupon cache write failed", zap.String("code", code), zap.Error(err))
	}
	return rule, nil
}

// IncrementUses redeems through the backing repository and evicts the
// cached rule.
func (c *CouponCache) IncrementUses(ctx context.Context, code string) error {
	if err := c.Repository.IncrementUses(ctx, code); err != nil {
		return err
	}
	return c.Invalidate(ctx, code)
}

// Invalidate drops the cached rule for code.
func (c *CouponCache) Invalidate(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, couponKey(coupon.Normalize(code))).Err(); err != nil {
		return errors.Wrap(err, "evict coupon")
	}
	return nil
}

func encodeRule(r *coupon.Rule) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("type")
	e.Str(string(r.DiscountType))
	e.FieldStart("value")
	e.Str(r.Value.String())
	e.FieldStart("min_amount")
	e.Str(r.MinAmount.String())
	e.FieldStart("description")
	e.Str(r.Description)
	if r.ValidFrom != nil {
		e.FieldStart("valid_from")
		e.Str(r.ValidFrom.UTC().Format(time.RFC3339Nano))
	}
	if r.ValidUntil != nil {
		e.FieldStart("valid_until")
		e.Str(r.ValidUntil.UTC().Format(time.RFC3339Nano))
	}
	e.FieldStart("max_uses")
	e.Int(r.MaxUses)
	e.FieldStart("uses")
	e.Int(r.Uses)
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

func decodeRule(data []byte) (*coupon.Rule, error) {
	var r coupon.Rule
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			r.Code, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			r.DiscountType = coupon.DiscountType(s)
		case "value":
			r.Value, err = decodeDecimal(d)
		case "min_amount":
			r.MinAmount, err = decodeDecimal(d)
		case "description":
			r.Description, err = d.Str()
		case "valid_from":
			r.ValidFrom, err = decodeTime(d)
		case "valid_until":
			r.ValidUntil, err = decodeTime(d)
		case "max_uses":
			r.MaxUses, err = d.Int()
		case "uses":
			r.Uses, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode coupon")
	}
	return &r, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

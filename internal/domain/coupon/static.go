package coupon

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultRules is the reference coupon table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Code:         "SAVE10",
			DiscountType: DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			MinAmount:    decimal.NewFromInt(50),
			Description:  "10% off orders over $50",
		},
		{
			Code:         "SAVE20",
			DiscountType: DiscountPercentage,
			Value:        decimal.NewFromInt(20),
			MinAmount:    decimal.NewFromInt(100),
			Description:  "20% off orders over $100",
		},
		{
			Code:         "FLAT15",
			DiscountType: DiscountFixed,
			Value:        decimal.NewFromInt(15),
			MinAmount:    decimal.NewFromInt(75),
			Description:  "$15 off orders over $75",
		},
	}
}

// StaticRepository is an in-memory Repository. It is safe for concurrent use.
type StaticRepository struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

var _ Repository = (*StaticRepository)(nil)

// NewStaticRepository returns a repository holding the given rules.
func NewStaticRepository(rules ...Rule) *StaticRepository {
	r := &StaticRepository{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		r.Put(rule)
	}
	return r
}

// Put adds or replaces a rule.
func (r *StaticRepository) Put(rule Rule) {
	rule.Code = Normalize(rule.Code)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Code] = rule
}

// FindByCode returns a copy of the rule for code.
func (r *StaticRepository) FindByCode(_ context.Context, code string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[Normalize(code)]
	if !ok {
		return nil, ErrInvalidCoupon
	}
	return &rule, nil
}

// IncrementUses bumps the usage counter of code.
func (r *StaticRepository) IncrementUses(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code = Normalize(code)
	rule, ok := r.rules[code]
	if !ok {
		return ErrInvalidCoupon
	}
	rule.Uses++
	r.rules[code] = rule
	return nil
}

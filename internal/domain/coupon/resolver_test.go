package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	rule     *Rule
	err      error
	lastCode string
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	m.lastCode = code
	return m.rule, m.err
}

func (m *mockCouponRepo) IncrementUses(_ context.Context, _ string) error {
	return nil
}

func TestRepoResolver_Resolve(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name       string
		repo       *mockCouponRepo
		code       string
		subtotal   decimal.Decimal
		wantAmount decimal.Decimal
		wantErr    error
	}{
		{
			name: "valid code returns discount",
			repo: &mockCouponRepo{
				rule: &Rule{Code: "SAVE10", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10)},
			},
			code:       "SAVE10",
			subtotal:   decimal.NewFromInt(100),
			wantAmount: decimal.NewFromInt(10),
		},
		{
			name:     "unknown code returns ErrInvalidCoupon",
			repo:     &mockCouponRepo{err: ErrInvalidCoupon},
			code:     "BOGUS",
			subtotal: decimal.NewFromInt(50),
			wantErr:  ErrInvalidCoupon,
		},
		{
			name:     "blank code returns ErrInvalidCoupon",
			repo:     &mockCouponRepo{},
			code:     "   ",
			subtotal: decimal.NewFromInt(50),
			wantErr:  ErrInvalidCoupon,
		},
		{
			name: "expired coupon",
			repo: &mockCouponRepo{
				rule: &Rule{Code: "OLD", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10), ValidUntil: &pastTime},
			},
			code:     "OLD",
			subtotal: decimal.NewFromInt(100),
			wantErr:  ErrCouponExpired,
		},
		{
			name: "not yet valid",
			repo: &mockCouponRepo{
				rule: &Rule{Code: "FUTURE", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10), ValidFrom: &futureTime},
			},
			code:     "FUTURE",
			subtotal: decimal.NewFromInt(100),
			wantErr:  ErrCouponExpired,
		},
		{
			name: "usage limit reached",
			repo: &mockCouponRepo{
				rule: &Rule{Code: "LIMITED", DiscountType: DiscountFixed, Value: decimal.NewFromInt(5), MaxUses: 3, Uses: 3},
			},
			code:     "LIMITED",
			subtotal: decimal.NewFromInt(100),
			wantErr:  ErrCouponUsageLimitReached,
		},
		{
			name: "minimum not met",
			repo: &mockCouponRepo{
				rule: &Rule{Code: "SAVE20", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(20), MinAmount: decimal.NewFromInt(100)},
			},
			code:     "SAVE20",
			subtotal: decimal.NewFromInt(99),
			wantErr:  ErrCouponMinimumNotMet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRepoResolver(tt.repo)
			r.now = func() time.Time { return fixedNow }

			got, err := r.Resolve(context.Background(), tt.code, tt.subtotal)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
		})
	}
}

func TestRepoResolver_NormalizesCode(t *testing.T) {
	repo := &mockCouponRepo{
		rule: &Rule{Code: "SAVE10", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10)},
	}

	_, err := NewRepoResolver(repo).Resolve(context.Background(), " save10 ", decimal.NewFromInt(60))
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", repo.lastCode)
}

func TestRepoResolver_RepositoryError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("db down")}

	_, err := NewRepoResolver(repo).Resolve(context.Background(), "SAVE10", decimal.NewFromInt(60))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func TestStaticRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStaticRepository(DefaultRules()...)

	rule, err := repo.FindByCode(ctx, "save10")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", rule.Code)

	require.NoError(t, repo.IncrementUses(ctx, "SAVE10"))
	rule, err = repo.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Uses)

	_, err = repo.FindByCode(ctx, "NOPE")
	require.ErrorIs(t, err, ErrInvalidCoupon)
	require.ErrorIs(t, repo.IncrementUses(ctx, "NOPE"), ErrInvalidCoupon)
}

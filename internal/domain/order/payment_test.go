package order

import (
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePaymentEvent(t *testing.T) {
	for _, tt := range []struct {
		name    string
		input   string
		want    PaymentEvent
		wantErr bool
	}{
		{
			name:  "StringAmount",
			input: `{"order_id":"o1","transaction_id":"t1","status":"succeeded","amount":"68.80","currency":"USD","occurred_at":"2026-01-02T10:00:00Z"}`,
			want: PaymentEvent{
				OrderID:       "o1",
				TransactionID: "t1",
				Status:        PaymentSucceeded,
				Amount:        decimal.RequireFromString("68.8"),
				Currency:      "USD",
				OccurredAt:    time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			name:  "NumberAmountAndUnknownFields",
			input: `{"order_id":"o1","transaction_id":"t1","status":"failed","amount":12.5,"gateway":{"id":1}}`,
			want: PaymentEvent{
				OrderID:       "o1",
				TransactionID: "t1",
				Status:        PaymentFailed,
				Amount:        decimal.RequireFromString("12.5"),
			},
		},
		{name: "BadAmount", input: `{"amount":true}`, wantErr: true},
		{name: "BadTime", input: `{"occurred_at":"yesterday"}`, wantErr: true},
		{name: "NotObject", input: `[]`, wantErr: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePaymentEvent(jx.DecodeStr(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPayment)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.OrderID, got.OrderID)
			assert.Equal(t, tt.want.TransactionID, got.TransactionID)
			assert.Equal(t, tt.want.Status, got.Status)
			assert.True(t, tt.want.Amount.Equal(got.Amount), "amount %s", got.Amount)
			assert.Equal(t, tt.want.Currency, got.Currency)
			assert.True(t, tt.want.OccurredAt.Equal(got.OccurredAt))
		})
	}
}

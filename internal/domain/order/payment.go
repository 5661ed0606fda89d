package order

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// DecodePaymentEvent reads a gateway notification:
//
//	{"order_id": "...", "transaction_id": "...", "status": "succeeded",
//	 "amount": "68.80", "currency": "USD", "occurred_at": "2026-01-02T10:00:00Z"}
//
// Amount may be a JSON string or number. Unknown fields are ignored.
func DecodePaymentEvent(d *jx.Decoder) (PaymentEvent, error) {
	var evt PaymentEvent
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			evt.OrderID, err = d.Str()
		case "transaction_id":
			evt.TransactionID, err = d.Str()
		case "status":
			evt.Status, err = d.Str()
		case "amount":
			evt.Amount, err = decodeAmount(d)
		case "currency":
			evt.Currency, err = d.Str()
		case "occurred_at":
			var s string
			if s, err = d.Str(); err == nil {
				evt.OccurredAt, err = time.Parse(time.RFC3339, s)
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return PaymentEvent{}, errors.Wrap(ErrInvalidPayment, err.Error())
	}
	return evt, nil
}

func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.New("amount must be a string or number")
	}
}

package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

// PaymentWebhook applies a payment gateway notification. Redelivered
// notifications for a paid order succeed without changing it.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 512)
	evt, err := order.DecodePaymentEvent(d)
	if err != nil {
		fail(w, r, err)
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = h.now()
	}

	o, err := h.orders.ConfirmPayment(r.Context(), evt)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order_id")
		e.Str(o.ID)
		e.FieldStart("order_number")
		e.Str(o.OrderNumber)
		e.FieldStart("status")
		e.Str(string(o.Status))
		e.FieldStart("is_paid")
		e.Bool(o.IsPaid)
		e.ObjEnd()
	})
}

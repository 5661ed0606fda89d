package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, status int, o *order.Order, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		h.encodeOrder(e, o)
	})
}

func (h *Handler) respondOrders(w http.ResponseWriter, r *http.Request, orders []order.Order, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeOrders(e, orders)
	})
}

// CreateOrder places an order either from explicit items or, with
// "from_cart": true, from the caller's cart.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	if err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "from_cart":
			req.FromCart, err = d.Bool()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				line, err := decodeLine(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, line)
				return nil
			})
		case "shipping_address":
			req.ShippingAddress, err = decodeAddress(d)
		case "payment_method":
			var s string
			s, err = d.Str()
			req.PaymentMethod = order.PaymentMethod(s)
		case "coupon_code":
			req.CouponCode, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.orders.Create(r.Context(), identity(r), req)
	h.respondOrder(w, r, http.StatusCreated, o, err)
}

func decodeLine(d *jx.Decoder) (order.LineRequest, error) {
	var line order.LineRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			line.ProductID, err = d.Str()
		case "quantity":
			line.Quantity, err = d.Int()
		case "variant":
			line.Variant, err = decodeVariant(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return line, err
}

// ListMyOrders returns the caller's orders, newest first.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListMine(r.Context(), identity(r))
	h.respondOrders(w, r, orders, err)
}

// GetOrder returns one of the caller's orders. Admins may read any order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), identity(r), chi.URLParam(r, "orderId"))
	h.respondOrder(w, r, http.StatusOK, o, err)
}

// CancelOrder cancels a pending or processing order and restocks its items.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeNote(w, r, "reason")
	if !ok {
		return
	}
	o, err := h.orders.Cancel(r.Context(), identity(r), chi.URLParam(r, "orderId"), reason)
	h.respondOrder(w, r, http.StatusOK, o, err)
}

// ListAllOrders returns orders across users, optionally filtered by the
// status query parameter and capped by limit.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := order.ListFilter{Status: order.Status(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	orders, err := h.orders.ListAll(r.Context(), identity(r), filter)
	h.respondOrders(w, r, orders, err)
}

// ShipOrder marks an order shipped with an optional tracking number.
func (h *Handler) ShipOrder(w http.ResponseWriter, r *http.Request) {
	tracking, ok := decodeNote(w, r, "tracking_number")
	if !ok {
		return
	}
	o, err := h.orders.Ship(r.Context(), identity(r), chi.URLParam(r, "orderId"), tracking)
	h.respondOrder(w, r, http.StatusOK, o, err)
}

// DeliverOrder marks a shipped order delivered.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Deliver(r.Context(), identity(r), chi.URLParam(r, "orderId"))
	h.respondOrder(w, r, http.StatusOK, o, err)
}

// RefundOrder refunds a paid order.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeNote(w, r, "reason")
	if !ok {
		return
	}
	o, err := h.orders.Refund(r.Context(), identity(r), chi.URLParam(r, "orderId"), reason)
	h.respondOrder(w, r, http.StatusOK, o, err)
}

// decodeNote reads a single optional string field from the body. It writes
// the error response itself and reports whether the caller may proceed.
func decodeNote(w http.ResponseWriter, r *http.Request, field string) (string, bool) {
	var note string
	if err := decodeBody(w, r, true, func(d *jx.Decoder, key string) error {
		if key != field {
			return d.Skip()
		}
		var err error
		note, err = d.Str()
		return err
	}); err != nil {
		fail(w, r, err)
		return "", false
	}
	return note, true
}

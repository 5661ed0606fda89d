package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `id, order_number, user_id, user_email, items, shipping_address, payment_method,
		coupon_code, items_price, tax_price, shipping_price, discount_amount, total_price, status,
		is_paid, paid_at, payment_result, shipped_at, tracking_number, is_delivered, delivered_at,
		cancelled_at, cancellation_reason, refunded_at, refund_reason, status_history, version,
		created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC, order_number DESC`

	// An empty status matches every order; a non-positive limit means no limit.
	listOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, order_number DESC
		LIMIT NULLIF($2, 0)`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, 1, $27, $28)`

	updateOrderSQL = `UPDATE orders SET
		status = $3, is_paid = $4, paid_at = $5, payment_result = $6, shipped_at = $7,
		tracking_number = $8, is_delivered = $9, delivered_at = $10, cancelled_at = $11,
		cancellation_reason = $12, refunded_at = $13, refund_reason = $14, status_history = $15,
		updated_at = $16, version = version + 1
		WHERE id = $1 AND version = $2`

	nextOrderSequenceSQL = `INSERT INTO order_counters (day, value) VALUES ($1::date, 1)
		ON CONFLICT (day) DO UPDATE SET value = order_counters.value + 1
		RETURNING value`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL. Line items,
// address, payment result and history are stored as JSONB.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Get returns the order or order.ErrNotFound.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := s.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (s *OrderStore) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// List returns orders matching filter, newest first.
func (s *OrderStore) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersSQL, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// InTx runs fn in a database transaction, committing if fn returns nil.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

var _ order.Tx = (*pgTx)(nil)

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	return decrementStock(ctx, t.tx, productID, qty)
}

func (t *pgTx) IncrementStock(ctx context.Context, productID string, qty int) error {
	return incrementStock(ctx, t.tx, productID, qty)
}

func (t *pgTx) NextSequence(ctx context.Context, day string) (int, error) {
	var seq int
	if err := t.tx.QueryRow(ctx, nextOrderSequenceSQL, day).Scan(&seq); err != nil {
		return 0, fmt.Errorf("incrementing order counter for %s: %w", day, err)
	}
	return seq, nil
}

func (t *pgTx) RedeemCoupon(ctx context.Context, code string) error {
	return redeemCoupon(ctx, t.tx, code)
}

func (t *pgTx) Insert(ctx context.Context, o *order.Order) error {
	j, err := marshalOrderJSON(o)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.OrderNumber, o.UserID, o.UserEmail, j.items, j.address, string(o.PaymentMethod),
		o.CouponCode, o.ItemsPrice, o.TaxPrice, o.ShippingPrice, o.DiscountAmount, o.TotalPrice,
		string(o.Status), o.IsPaid, o.PaidAt, j.payment, o.ShippedAt, o.TrackingNumber,
		o.IsDelivered, o.DeliveredAt, o.CancelledAt, o.CancellationReason, o.RefundedAt,
		o.RefundReason, j.history, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	o.Version = 1
	return nil
}

func (t *pgTx) Update(ctx context.Context, o *order.Order) error {
	j, err := marshalOrderJSON(o)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, updateOrderSQL,
		o.ID, o.Version, string(o.Status), o.IsPaid, o.PaidAt, j.payment, o.ShippedAt,
		o.TrackingNumber, o.IsDelivered, o.DeliveredAt, o.CancelledAt, o.CancellationReason,
		o.RefundedAt, o.RefundReason, j.history, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrVersionConflict
	}
	o.Version++
	return nil
}

func (t *pgTx) ClearCart(ctx context.Context, userID string) error {
	return clearCart(ctx, t.tx, userID)
}

func (t *pgTx) Enqueue(ctx context.Context, e order.Event) error {
	return enqueue(ctx, t.tx, e)
}

type orderJSON struct {
	items   []byte
	address []byte
	payment []byte
	history []byte
}

func marshalOrderJSON(o *order.Order) (orderJSON, error) {
	var (
		j   orderJSON
		err error
	)
	if j.items, err = json.Marshal(o.Items); err != nil {
		return j, fmt.Errorf("marshaling order items: %w", err)
	}
	if j.address, err = json.Marshal(o.ShippingAddress); err != nil {
		return j, fmt.Errorf("marshaling shipping address: %w", err)
	}
	if o.PaymentResult != nil {
		if j.payment, err = json.Marshal(o.PaymentResult); err != nil {
			return j, fmt.Errorf("marshaling payment result: %w", err)
		}
	}
	history := o.StatusHistory
	if history == nil {
		history = []order.HistoryEntry{}
	}
	if j.history, err = json.Marshal(history); err != nil {
		return j, fmt.Errorf("marshaling status history: %w", err)
	}
	return j, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                     order.Order
		method, status        string
		items, address        []byte
		payment, historyBytes []byte
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.UserEmail, &items, &address, &method,
		&o.CouponCode, &o.ItemsPrice, &o.TaxPrice, &o.ShippingPrice, &o.DiscountAmount, &o.TotalPrice,
		&status, &o.IsPaid, &o.PaidAt, &payment, &o.ShippedAt, &o.TrackingNumber,
		&o.IsDelivered, &o.DeliveredAt, &o.CancelledAt, &o.CancellationReason, &o.RefundedAt,
		&o.RefundReason, &historyBytes, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentMethod = order.PaymentMethod(method)
	o.Status = order.Status(status)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	if len(payment) > 0 {
		o.PaymentResult = &order.PaymentResult{}
		if err := json.Unmarshal(payment, o.PaymentResult); err != nil {
			return o, fmt.Errorf("unmarshaling payment result: %w", err)
		}
	}
	if err := json.Unmarshal(historyBytes, &o.StatusHistory); err != nil {
		return o, fmt.Errorf("unmarshaling status history: %w", err)
	}
	return o, nil
}

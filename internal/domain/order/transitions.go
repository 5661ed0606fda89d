package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

// Payment gateway outcomes.
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// PaymentEvent is an asynchronous payment gateway notification.
type PaymentEvent struct {
	OrderID       string
	TransactionID string
	Status        string
	Amount        decimal.Decimal
	Currency      string
	OccurredAt    time.Time
}

// mutation applies a change to o inside a transaction. It reports whether
// o changed and must be written back.
type mutation func(ctx context.Context, tx Tx, o *Order, now time.Time) (bool, error)

// ConfirmPayment applies a payment gateway event. It is idempotent: once an
// order is paid, further events leave it untouched.
func (s *Service) ConfirmPayment(ctx context.Context, evt PaymentEvent) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.ConfirmPayment")
	defer func() { endSpan(span, rerr) }()

	if evt.OrderID == "" || evt.TransactionID == "" {
		return nil, errors.Wrap(ErrInvalidPayment, "order id and transaction id required")
	}
	if evt.Status != PaymentSucceeded && evt.Status != PaymentFailed {
		return nil, errors.Wrapf(ErrInvalidPayment, "unknown payment status %q", evt.Status)
	}

	return s.transition(ctx, evt.OrderID, func(ctx context.Context, _ Tx, o *Order, now time.Time) (bool, error) {
		if o.IsPaid {
			if o.PaymentResult != nil && o.PaymentResult.TransactionID != evt.TransactionID {
				zctx.From(ctx).Warn("Ignoring payment for already paid order",
					zap.String("order_id", o.ID),
					zap.String("paid_txn", o.PaymentResult.TransactionID),
					zap.String("txn", evt.TransactionID),
				)
			}
			return false, nil
		}
		switch o.Status {
		case StatusCancelled, StatusRefunded:
			return false, &TransitionError{From: o.Status, To: StatusProcessing}
		}

		result := &PaymentResult{
			TransactionID: evt.TransactionID,
			Status:        evt.Status,
			Amount:        evt.Amount,
			Currency:      evt.Currency,
			UpdatedAt:     now,
		}
		if evt.Status == PaymentFailed {
			o.PaymentResult = result
			return true, nil
		}
		if !evt.Amount.Equal(o.TotalPrice) {
			return false, errors.Wrapf(ErrPaymentMismatch, "paid %s, due %s",
				evt.Amount.StringFixed(2), o.TotalPrice.StringFixed(2))
		}

		o.IsPaid = true
		o.PaidAt = &now
		o.PaymentResult = result
		if o.Status == StatusPending {
			o.Status = StatusProcessing
			o.appendHistory(StatusProcessing, now, "Payment confirmed: "+evt.TransactionID, auth.System.UserID)
		}
		return true, nil
	})
}

// Ship marks an order as handed to the carrier. Admin only.
func (s *Service) Ship(ctx context.Context, actor auth.Identity, id, trackingNumber string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Ship")
	defer func() { endSpan(span, rerr) }()

	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	return s.transition(ctx, id, func(_ context.Context, _ Tx, o *Order, now time.Time) (bool, error) {
		switch o.Status {
		case StatusShipped:
			return false, nil
		case StatusPending, StatusProcessing:
		default:
			return false, &TransitionError{From: o.Status, To: StatusShipped}
		}

		o.Status = StatusShipped
		if o.ShippedAt == nil {
			o.ShippedAt = &now
		}
		o.TrackingNumber = trackingNumber
		note := "Order shipped"
		if trackingNumber != "" {
			note += ", tracking " + trackingNumber
		}
		o.appendHistory(StatusShipped, now, note, actor.UserID)
		return true, nil
	})
}

// Deliver marks a shipped order as delivered. Admin only.
func (s *Service) Deliver(ctx context.Context, actor auth.Identity, id string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Deliver")
	defer func() { endSpan(span, rerr) }()

	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	return s.transition(ctx, id, func(_ context.Context, _ Tx, o *Order, now time.Time) (bool, error) {
		switch o.Status {
		case StatusDelivered:
			return false, nil
		case StatusShipped:
		default:
			return false, &TransitionError{From: o.Status, To: StatusDelivered}
		}

		o.Status = StatusDelivered
		o.IsDelivered = true
		if o.DeliveredAt == nil {
			o.DeliveredAt = &now
		}
		o.appendHistory(StatusDelivered, now, "Order delivered", actor.UserID)
		return true, nil
	})
}

// Cancel cancels a pending or processing order and returns its units to
// stock. The owner or an admin may cancel.
func (s *Service) Cancel(ctx context.Context, actor auth.Identity, id, reason string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel")
	defer func() { endSpan(span, rerr) }()

	return s.transition(ctx, id, func(ctx context.Context, tx Tx, o *Order, now time.Time) (bool, error) {
		if !canAccess(actor, o) {
			return false, ErrUnauthorized
		}
		switch o.Status {
		case StatusPending, StatusProcessing:
		default:
			return false, &TransitionError{From: o.Status, To: StatusCancelled}
		}

		for _, item := range o.Items {
			if err := tx.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return false, errors.Wrapf(err, "restore stock %s", item.ProductID)
			}
		}

		o.Status = StatusCancelled
		o.CancelledAt = &now
		o.CancellationReason = reason
		note := "Order cancelled"
		if reason != "" {
			note += ": " + reason
		}
		o.appendHistory(StatusCancelled, now, note, actor.UserID)
		return true, nil
	})
}

// Refund refunds a paid order. Admin only.
func (s *Service) Refund(ctx context.Context, actor auth.Identity, id, reason string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Refund")
	defer func() { endSpan(span, rerr) }()

	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	return s.transition(ctx, id, func(_ context.Context, _ Tx, o *Order, now time.Time) (bool, error) {
		if o.Status == StatusRefunded {
			return false, &TransitionError{From: o.Status, To: StatusRefunded}
		}
		if !o.PaymentMethod.Refundable() {
			return false, ErrRefundUnsupported
		}
		if !o.IsPaid || o.PaymentResult == nil || o.PaymentResult.TransactionID == "" {
			return false, &TransitionError{From: o.Status, To: StatusRefunded}
		}

		o.Status = StatusRefunded
		o.RefundedAt = &now
		o.RefundReason = reason
		note := "Order refunded"
		if reason != "" {
			note += ": " + reason
		}
		o.appendHistory(StatusRefunded, now, note, actor.UserID)
		return true, nil
	})
}

// transition loads the order, applies fn and writes the result back with its
// outbox event in one transaction, retrying on version conflicts.
func (s *Service) transition(ctx context.Context, id string, fn mutation) (*Order, error) {
	lg := zctx.From(ctx)

	for attempt := 1; ; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		from := o.Status

		err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			now := s.now()
			changed, err := fn(ctx, tx, o, now)
			if err != nil || !changed {
				return err
			}
			o.UpdatedAt = now
			if err := tx.Update(ctx, o); err != nil {
				return err
			}
			if o.Status == from {
				return nil
			}
			if err := tx.Enqueue(ctx, NewEvent(EventStatusChanged, o, now)); err != nil {
				return errors.Wrap(err, "enqueue event")
			}
			return nil
		})
		if errors.Is(err, ErrVersionConflict) && attempt < maxAttempts {
			lg.Debug("Order version conflict, retrying",
				zap.String("order_id", id),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		if o.Status != from {
			s.transitions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("from", string(from)),
				attribute.String("to", string(o.Status)),
			))
			lg.Info("Order status changed",
				zap.String("order_id", o.ID),
				zap.String("from", string(from)),
				zap.String("to", string(o.Status)),
			)
		}
		return o, nil
	}
}

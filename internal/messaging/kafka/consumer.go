package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// PaymentConfirmer applies payment events. Implemented by *order.Service.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, evt order.PaymentEvent) (*order.Order, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PaymentConsumer reads payment notifications and confirms orders.
type PaymentConsumer struct {
	reader  messageReader
	orders  PaymentConfirmer
	backoff time.Duration
}

// NewPaymentConsumer joins cfg.GroupID on cfg.PaymentsTopic.
func NewPaymentConsumer(cfg Config, orders PaymentConfirmer) *PaymentConsumer {
	return &PaymentConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.PaymentsTopic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
			MaxWait:  time.Second,
		}),
		orders:  orders,
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. A message is committed once handled
// or found to be permanently invalid; transient failures are retried.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("payments")
	defer func() {
		if err := c.reader.Close(); err != nil {
			lg.Warn("Close reader", zap.Error(err))
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}

		for {
			err := c.handle(ctx, msg)
			if err == nil || !retryable(err) {
				if err != nil {
					lg.Warn("Dropping payment message",
						zap.Int64("offset", msg.Offset),
						zap.ByteString("key", msg.Key),
						zap.Error(err),
					)
				}
				break
			}
			lg.Warn("Payment message failed, retrying", zap.Int64("offset", msg.Offset), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "commit")
		}
	}
}

func (c *PaymentConsumer) handle(ctx context.Context, msg kafka.Message) error {
	evt, err := order.DecodePaymentEvent(jx.DecodeBytes(msg.Value))
	if err != nil {
		return err
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = msg.Time
	}
	o, err := c.orders.ConfirmPayment(ctx, evt)
	if err != nil {
		return errors.Wrap(err, "confirm payment")
	}
	zctx.From(ctx).Info("Payment applied",
		zap.String("order_id", o.ID),
		zap.String("txn", evt.TransactionID),
		zap.String("status", string(o.Status)),
	)
	return nil
}

// retryable reports whether err may succeed on a later attempt. Domain
// rejections are permanent.
func retryable(err error) bool {
	for _, permanent := range []error{
		order.ErrInvalidPayment,
		order.ErrNotFound,
		order.ErrPaymentMismatch,
		order.ErrInvalidTransition,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

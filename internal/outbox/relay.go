// Package outbox forwards events stored by order transactions to a
// message broker.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// Store is the transactional outbox.
type Store interface {
	Pending(ctx context.Context, limit int) ([]order.Event, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// Publisher delivers a batch of events. A batch either fails as a whole or
// is considered delivered.
type Publisher interface {
	Publish(ctx context.Context, events []order.Event) error
}

// Config tunes the relay loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Relay polls the outbox and publishes pending events. Delivery is
// at-least-once: a crash between Publish and MarkPublished republishes the
// batch.
type Relay struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewRelay creates a relay with defaults applied to zero config fields.
func NewRelay(store Store, publisher Publisher, cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

// Run flushes the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Warn("Outbox flush failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Outbox flushed", zap.Int("events", n))
			}
		}
	}
}

// Flush publishes pending batches until the outbox is drained and returns
// the number of events delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var total int
	for {
		events, err := r.store.Pending(ctx, r.batchSize)
		if err != nil {
			return total, errors.Wrap(err, "load pending")
		}
		if len(events) == 0 {
			return total, nil
		}
		if err := r.publisher.Publish(ctx, events); err != nil {
			return total, errors.Wrap(err, "publish")
		}

		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if err := r.store.MarkPublished(ctx, ids, r.now()); err != nil {
			return total, errors.Wrap(err, "mark published")
		}
		total += len(events)

		if len(events) < r.batchSize {
			return total, nil
		}
	}
}

// LogPublisher writes events to the logger. It stands in for a broker when
// none is configured.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(ctx context.Context, events []order.Event) error {
	lg := zctx.From(ctx)
	for _, e := range events {
		lg.Info("Order event",
			zap.String("type", e.Type),
			zap.String("order_id", e.AggregateID),
			zap.ByteString("payload", e.Payload),
		)
	}
	return nil
}

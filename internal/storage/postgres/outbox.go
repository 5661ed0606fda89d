package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	enqueueEventSQL = `INSERT INTO outbox (id, event_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	pendingEventsSQL = `SELECT id, event_type, aggregate_id, payload, created_at
		FROM outbox WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`

	markPublishedSQL = `UPDATE outbox SET published_at = $2 WHERE id = ANY($1)`
)

// OutboxRepository reads and acknowledges events written by order
// transactions. Delivery is at least once.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Pending returns up to limit unpublished events, oldest first.
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]order.Event, error) {
	rows, err := r.pool.Query(ctx, pendingEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending events: %w", err)
	}
	return pgx.CollectRows(rows, scanEvent)
}

// MarkPublished flags the events with the given ids as delivered.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, markPublishedSQL, ids, at); err != nil {
		return fmt.Errorf("marking events published: %w", err)
	}
	return nil
}

func enqueue(ctx context.Context, q querier, e order.Event) error {
	_, err := q.Exec(ctx, enqueueEventSQL, e.ID, e.Type, e.AggregateID, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueueing event %s: %w", e.Type, err)
	}
	return nil
}

func scanEvent(row pgx.CollectableRow) (order.Event, error) {
	var e order.Event
	err := row.Scan(&e.ID, &e.Type, &e.AggregateID, &e.Payload, &e.CreatedAt)
	return e, err
}

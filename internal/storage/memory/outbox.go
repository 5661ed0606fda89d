package memory

import (
	"context"
	"time"

	"github.com/xenking/storefront/internal/domain/order"
)

// Outbox exposes the events enqueued by order transactions.
type Outbox struct {
	db *DB
}

// Pending returns up to limit unpublished events in enqueue order.
func (r *Outbox) Pending(_ context.Context, limit int) ([]order.Event, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []order.Event
	for _, e := range r.db.outbox {
		if e.publishedAt != nil {
			continue
		}
		out = append(out, e.event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkPublished flags the events with the given ids as delivered.
func (r *Outbox) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range r.db.outbox {
		if _, ok := want[r.db.outbox[i].event.ID]; ok {
			t := at
			r.db.outbox[i].publishedAt = &t
		}
	}
	return nil
}

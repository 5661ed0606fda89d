package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/storage/memory"
)

type recordingPublisher struct {
	batches [][]order.Event
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, events []order.Event) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, events)
	return nil
}

func seedOutbox(t *testing.T, n int) *memory.DB {
	t.Helper()
	db := memory.New(coupon.NewStaticRepository())
	o := &order.Order{ID: "o1", OrderNumber: "ORD2601020001", Status: order.StatusPending}
	require.NoError(t, db.Orders().InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		for i := 0; i < n; i++ {
			if err := tx.Enqueue(ctx, order.NewEvent(order.EventStatusChanged, o, time.Now())); err != nil {
				return err
			}
		}
		return nil
	}))
	return db
}

func TestRelay_FlushDrainsInBatches(t *testing.T) {
	ctx := context.Background()
	db := seedOutbox(t, 5)
	pub := &recordingPublisher{}

	relay := NewRelay(db.Outbox(), pub, Config{BatchSize: 2})
	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.Len(t, pub.batches, 3)
	assert.Len(t, pub.batches[0], 2)
	assert.Len(t, pub.batches[2], 1)

	pending, err := db.Outbox().Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_PublishFailureKeepsEvents(t *testing.T) {
	ctx := context.Background()
	db := seedOutbox(t, 3)
	pub := &recordingPublisher{err: errors.New("broker down")}

	relay := NewRelay(db.Outbox(), pub, Config{})
	n, err := relay.Flush(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	pending, err := db.Outbox().Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	pub.err = nil
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	db := seedOutbox(t, 1)
	pub := &recordingPublisher{}
	relay := NewRelay(db.Outbox(), pub, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		pending, err := db.Outbox().Pending(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

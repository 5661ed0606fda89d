package order

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// Outbox event types.
const (
	EventCreated       = "order.created"
	EventStatusChanged = "order.status_changed"
)

// Event is an order change recorded in the outbox and published
// asynchronously. Payload is JSON.
type Event struct {
	ID          string
	Type        string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
}

// NewEvent builds an outbox event describing the current state of o.
func NewEvent(typ string, o *Order, now time.Time) Event {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("type")
	e.Str(typ)
	e.FieldStart("order_id")
	e.Str(o.ID)
	e.FieldStart("order_number")
	e.Str(o.OrderNumber)
	e.FieldStart("user_id")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("total_price")
	e.Str(o.TotalPrice.StringFixed(2))
	e.FieldStart("is_paid")
	e.Bool(o.IsPaid)
	e.FieldStart("item_count")
	e.Int(len(o.Items))
	e.FieldStart("occurred_at")
	e.Str(now.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()

	return Event{
		ID:          uuid.New().String(),
		Type:        typ,
		AggregateID: o.ID,
		Payload:     append([]byte(nil), e.Bytes()...),
		CreatedAt:   now,
	}
}

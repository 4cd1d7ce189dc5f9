package order

import (
	"context"
	"time"
)

// EventKind names a committed order transition.
type EventKind string

const (
	EventCreated         EventKind = "order.created"
	EventPaid            EventKind = "order.paid"
	EventCancelled       EventKind = "order.cancelled"
	EventShippingUpdated EventKind = "order.shipping_updated"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	Kind       EventKind
	Order      Order
	OccurredAt time.Time
}

// Notifier receives committed order events. Delivery is best effort: the
// order change has already been committed when Notify is called.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

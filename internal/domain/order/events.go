package order

import (
	"context"
	"time"
)

// Event types emitted by the order services.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderItemsReplaced = "order.items_replaced"
)

// Event is the notification envelope published after a committed order
// mutation. Delivery is at-least-once and asynchronous; consumers must not
// assume exactly-once.
type Event struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	OrderID     string    `json:"order_id"`
	UserContact string    `json:"user_contact"`
	Status      Status    `json:"status"`
	// PrevStatus is set on status-change events only.
	PrevStatus Status `json:"prev_status,omitempty"`
}

// Dispatcher delivers lifecycle events to the external notification
// system. Implementations are fire-and-forget: a delivery failure must
// never roll back or block the mutation that produced the event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// CacheInvalidator is the explicit collaborator notified after committed
// mutations so the external response cache can drop stale entries.
type CacheInvalidator interface {
	InvalidateProductList(ctx context.Context)
	InvalidateOrderStatus(ctx context.Context, orderID string)
}

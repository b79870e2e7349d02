// Package notify delivers order lifecycle events to the external
// notification system over Kafka. Delivery is fire-and-forget and
// at-least-once: a delivery failure is logged and never surfaces to the
// operation that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/oakmall/storefront/internal/domain/order"
)

// Dispatcher publishes order events to a Kafka topic through a buffered
// inbox drained by a background goroutine, so callers never block on the
// broker.
type Dispatcher struct {
	writer    *kafka.Writer
	inbox     chan kafka.Message
	done      chan struct{}
	closeOnce sync.Once
	lg        *zap.Logger
}

var _ order.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher writing to the given brokers and
// topic. Call Start before dispatching and Close on shutdown to flush the
// inbox.
func NewDispatcher(brokers []string, topic string, buffer int, lg *zap.Logger) *Dispatcher {
	return &Dispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		inbox: make(chan kafka.Message, buffer),
		done:  make(chan struct{}),
		lg:    lg,
	}
}

// Start launches the writer goroutine. It drains the inbox until Close is
// called or ctx is cancelled, then flushes remaining messages.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				d.drain()
				d.closeWriter()
				return
			case m, ok := <-d.inbox:
				if !ok {
					d.closeWriter()
					return
				}
				d.write(m)
			}
		}
	}()
}

// Dispatch queues the event for delivery. When the inbox is full the event
// is dropped with a log entry rather than blocking the caller: notification
// delivery must never stall a reservation or transition.
func (d *Dispatcher) Dispatch(ctx context.Context, ev order.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		d.lg.Error("marshal order event", zap.Error(err), zap.String("order_id", ev.OrderID))
		return
	}

	m := kafka.Message{
		// Partition by order ID so all events of one order stay ordered.
		Key:   []byte(ev.OrderID),
		Value: payload,
		Time:  ev.OccurredAt,
	}

	select {
	case d.inbox <- m:
	default:
		d.lg.Warn("notification inbox full, dropping event",
			zap.String("event_type", ev.EventType),
			zap.String("order_id", ev.OrderID),
		)
	}
}

// Close stops accepting events, flushes the inbox, and closes the writer.
// No Dispatch calls may happen after Close.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.inbox) })
	<-d.done
}

func (d *Dispatcher) write(m kafka.Message) {
	if err := d.writer.WriteMessages(context.Background(), m); err != nil {
		d.lg.Error("publish order event", zap.Error(err), zap.ByteString("key", m.Key))
	}
}

// drain writes out whatever is buffered without blocking for new events.
func (d *Dispatcher) drain() {
	for {
		select {
		case m, ok := <-d.inbox:
			if !ok {
				return
			}
			d.write(m)
		default:
			return
		}
	}
}

func (d *Dispatcher) closeWriter() {
	if err := d.writer.Close(); err != nil {
		d.lg.Error("close kafka writer", zap.Error(err))
	}
}

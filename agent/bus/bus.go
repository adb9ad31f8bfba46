// Package bus wraps the topic-based publish/subscribe transport agents talk over.
//
// Delivery is at-most-once: a publish to a topic with no live subscriber is
// lost, and there is no acknowledgement. Each subscription invokes its handler
// synchronously, one payload at a time, in the order the transport delivered
// them. Nothing is guaranteed across topics.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// Handler processes one payload. It runs on the subscription's delivery
// goroutine; a slow handler delays later payloads on the same topic.
type Handler func(ctx context.Context, topic string, payload []byte)

// Bus is the transport contract.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Subscription is a live topic subscription.
type Subscription interface {
	Topic() string
	// Done is closed once the delivery goroutine has exited.
	Done() <-chan struct{}
	Unsubscribe() error
}

// Observer receives bus traffic counts.
type Observer interface {
	ObserveBusMessage(direction, kind string)
}

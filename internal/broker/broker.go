// Package broker carries published deploy events to the fan-out stage of
// every relay instance subscribed to the same bus.
package broker

import "context"

// Handler receives one published payload. It must not block for long: the
// broker delivers payloads in order from a single goroutine.
type Handler func(ctx context.Context, payload []byte)

// Broker is a publish/subscribe bus for encoded deploy envelopes
type Broker interface {
	// Name identifies the implementation in logs and metrics
	Name() string
	// Publish sends payload to every subscriber of the bus
	Publish(ctx context.Context, payload []byte) error
	// Subscribe registers handler and returns once the subscription is
	// active. Delivery stops when ctx is done or the broker is closed.
	Subscribe(ctx context.Context, handler Handler) error
	// Close releases the broker's resources
	Close() error
}

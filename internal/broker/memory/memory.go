// Package memory is the in-process broker used by a single relay instance.
package memory

import (
	"context"
	"sync"

	"ferryx/internal/broker"
	"ferryx/pkg/errors"
)

// Broker delivers payloads synchronously to local handlers
type Broker struct {
	mu       sync.RWMutex
	handlers map[int]broker.Handler
	nextID   int
	closed   bool
}

// New creates an in-process broker
func New() *Broker {
	return &Broker{handlers: make(map[int]broker.Handler)}
}

// Name returns the broker name
func (b *Broker) Name() string {
	return "memory"
}

// Publish calls every handler before returning
func (b *Broker) Publish(ctx context.Context, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.NewError(errors.ErrorTypeUnavailable, "broker closed")
	}
	handlers := make([]broker.Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, payload)
	}
	return nil
}

// Subscribe adds handler until ctx is done
func (b *Broker) Subscribe(ctx context.Context, handler broker.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.NewError(errors.ErrorTypeUnavailable, "broker closed")
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

// Close drops all handlers
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]broker.Handler)
	return nil
}

var _ broker.Broker = (*Broker)(nil)

package registry

import (
	"context"

	"ferryx/pkg/errors"
)

var (
	// ErrBufferFull is returned by TrySend when the subscriber is not
	// draining its queue.
	ErrBufferFull = errors.NewError(errors.ErrorTypeDeliveryFailure, "send buffer full")
	// ErrClosed is returned by TrySend after the subscriber was unregistered.
	ErrClosed = errors.NewError(errors.ErrorTypeDeliveryFailure, "subscriber closed")
)

// Subscriber is one live connection. The transport owns the socket and
// drains Messages; the registry owns membership and cancellation.
type Subscriber struct {
	id     string
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by Registry.mu
	groups map[string]struct{}
}

func newSubscriber(parent context.Context, id string, buffer int) *Subscriber {
	ctx, cancel := context.WithCancel(parent)
	return &Subscriber{
		id:     id,
		send:   make(chan []byte, buffer),
		ctx:    ctx,
		cancel: cancel,
		groups: make(map[string]struct{}),
	}
}

// ID returns the connection id
func (s *Subscriber) ID() string {
	return s.id
}

// Messages is the outbound queue the transport writes to the socket.
func (s *Subscriber) Messages() <-chan []byte {
	return s.send
}

// Done is closed once the subscriber is unregistered.
func (s *Subscriber) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context is cancelled once the subscriber is unregistered.
func (s *Subscriber) Context() context.Context {
	return s.ctx
}

// TrySend queues msg without blocking.
func (s *Subscriber) TrySend(msg []byte) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

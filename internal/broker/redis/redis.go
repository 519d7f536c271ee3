// Package redis shares deploy events between relay instances over Redis
// Pub/Sub. Every instance publishes to and subscribes on one channel, and
// fans out to its own subscribers.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"ferryx/internal/broker"
	"ferryx/internal/config"
	"ferryx/pkg/errors"
)

// Client is the part of go-redis the broker uses
type Client interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Subscription is an active channel subscription
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker publishes and receives envelopes on a Redis channel
type Broker struct {
	client  Client
	channel string
	logger  *slog.Logger
	onError func(op string, err error)

	mu   sync.Mutex
	subs []Subscription
	wg   sync.WaitGroup
}

// New creates a broker on channel using client
func New(client Client, channel string, logger *slog.Logger) *Broker {
	return &Broker{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "broker", "broker", "redis"),
	}
}

// OnError registers a hook for publish and receive errors
func (b *Broker) OnError(fn func(op string, err error)) *Broker {
	b.onError = fn
	return b
}

// Name returns the broker name
func (b *Broker) Name() string {
	return "redis"
}

// Publish sends payload on the channel
func (b *Broker) Publish(ctx context.Context, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel, payload); err != nil {
		b.reportError("publish", err)
		return errors.NewError(errors.ErrorTypeUnavailable, "failed to publish to redis").WithCause(err)
	}
	return nil
}

// Subscribe receives payloads on the channel until ctx is done or the broker
// is closed.
func (b *Broker) Subscribe(ctx context.Context, handler broker.Handler) error {
	sub, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		b.reportError("subscribe", err)
		return errors.NewError(errors.ErrorTypeUnavailable, "failed to subscribe to redis").WithCause(err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Info("Subscribed to deploy channel", "channel", b.channel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		msgs := sub.Messages()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case payload, ok := <-msgs:
				if !ok {
					return
				}
				handler(ctx, payload)
			}
		}
	}()
	return nil
}

// Close closes all subscriptions and the client
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	b.wg.Wait()
	return b.client.Close()
}

func (b *Broker) reportError(op string, err error) {
	b.logger.Error("Redis broker error", "op", op, "error", err)
	if b.onError != nil {
		b.onError(op, err)
	}
}

var _ broker.Broker = (*Broker)(nil)

// ClientAdapter adapts a go-redis client to Client
type ClientAdapter struct {
	client goredis.UniversalClient
}

// NewClientAdapter wraps client
func NewClientAdapter(client goredis.UniversalClient) *ClientAdapter {
	return &ClientAdapter{client: client}
}

// Dial connects to Redis with the relay's broker settings and checks the
// connection with PING.
func Dial(ctx context.Context, cfg config.Redis, logger *slog.Logger) (*ClientAdapter, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.NewError(errors.ErrorTypeUnavailable, "failed to connect to Redis").WithCause(err)
	}

	logger.Info("Connected to Redis", "addr", cfg.Addr, "db", cfg.DB)
	return NewClientAdapter(client), nil
}

// Publish implements Client
func (a *ClientAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	return a.client.Publish(ctx, channel, payload).Err()
}

// Subscribe implements Client. It waits for the subscription confirmation so
// no message published after it returns is missed.
func (a *ClientAdapter) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := a.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return newSubscription(pubsub), nil
}

// Close implements Client
func (a *ClientAdapter) Close() error {
	return a.client.Close()
}

type subscription struct {
	pubsub *goredis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSubscription(pubsub *goredis.PubSub) *subscription {
	s := &subscription{
		pubsub: pubsub,
		out:    make(chan []byte),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.out)
		for msg := range pubsub.Channel() {
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}()
	return s
}

func (s *subscription) Messages() <-chan []byte {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

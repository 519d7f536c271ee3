package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestBroker_PublishReachesSubscribers(t *testing.T) {
	b := New()
	ctx := context.Background()

	var a, c atomic.Int32
	b.Subscribe(ctx, func(ctx context.Context, payload []byte) { a.Add(1) })
	b.Subscribe(ctx, func(ctx context.Context, payload []byte) { c.Add(1) })

	if err := b.Publish(ctx, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if a.Load() != 1 || c.Load() != 1 {
		t.Errorf("deliveries = %d/%d, want 1/1", a.Load(), c.Load())
	}
}

func TestBroker_UnsubscribeOnCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	var n atomic.Int32
	b.Subscribe(ctx, func(context.Context, []byte) { n.Add(1) })
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		b.mu.RLock()
		left := len(b.handlers)
		b.mu.RUnlock()
		if left == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handler not removed after cancel")
		}
		time.Sleep(time.Millisecond)
	}

	b.Publish(context.Background(), []byte("x"))
	if n.Load() != 0 {
		t.Error("cancelled handler still called")
	}
}

func TestBroker_Closed(t *testing.T) {
	b := New()
	b.Close()
	if err := b.Publish(context.Background(), []byte("x")); err == nil {
		t.Error("Publish on closed broker should fail")
	}
	if err := b.Subscribe(context.Background(), func(context.Context, []byte) {}); err == nil {
		t.Error("Subscribe on closed broker should fail")
	}
}

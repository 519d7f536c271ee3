package jwt

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"ferryx/internal/middleware/auth"
)

func TestExpiryWatcher_FiresOnExpiry(t *testing.T) {
	w := NewExpiryWatcher(slog.Default())
	exp := time.Now().Add(20 * time.Millisecond)

	fired := make(chan struct{})
	w.Watch(context.Background(), "conn-1", &auth.AuthInfo{ExpiresAt: &exp}, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry callback not called")
	}
	if n := w.Pending(); n != 0 {
		t.Errorf("Pending() = %d after expiry", n)
	}
}

func TestExpiryWatcher_IgnoresTokensWithoutExp(t *testing.T) {
	w := NewExpiryWatcher(slog.Default())
	w.Watch(context.Background(), "conn-1", &auth.AuthInfo{}, func() { t.Error("should not fire") })
	w.Watch(context.Background(), "conn-2", nil, func() { t.Error("should not fire") })

	if n := w.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestExpiryWatcher_CancelledWithContext(t *testing.T) {
	w := NewExpiryWatcher(slog.Default())
	exp := time.Now().Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	w.Watch(ctx, "conn-1", &auth.AuthInfo{ExpiresAt: &exp}, func() { t.Error("should not fire") })
	if n := w.Pending(); n != 1 {
		t.Fatalf("Pending() = %d, want 1", n)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for w.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("schedule not dropped after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package jwt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ferryx/internal/middleware/auth"
)

// ExpiryWatcher closes long-lived connections when the token they were
// opened with expires. Tokens without exp are never scheduled.
type ExpiryWatcher struct {
	logger *slog.Logger
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewExpiryWatcher creates a new expiry watcher
func NewExpiryWatcher(logger *slog.Logger) *ExpiryWatcher {
	return &ExpiryWatcher{
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Watch schedules onExpired for the token's expiry. The schedule is dropped
// when ctx is done.
func (v *ExpiryWatcher) Watch(ctx context.Context, connectionID string, info *auth.AuthInfo, onExpired func()) {
	if info == nil || info.ExpiresAt == nil {
		return
	}

	remaining := time.Until(*info.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}

	timer := time.AfterFunc(remaining, func() {
		v.logger.Info("Token expired for connection", "connectionID", connectionID)
		v.Stop(connectionID)
		onExpired()
	})

	v.mu.Lock()
	if old, ok := v.timers[connectionID]; ok {
		old.Stop()
	}
	v.timers[connectionID] = timer
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.Stop(connectionID)
	}()
}

// Stop cancels the schedule for a connection
func (v *ExpiryWatcher) Stop(connectionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if timer, ok := v.timers[connectionID]; ok {
		timer.Stop()
		delete(v.timers, connectionID)
	}
}

// Pending returns the number of scheduled expiries
func (v *ExpiryWatcher) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// Package registry tracks live subscriber connections and the groups they
// have joined. It knows nothing about the transport carrying them.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ferryx/pkg/errors"
)

// ErrNotRegistered is returned for membership changes on unknown connections
var ErrNotRegistered = errors.NewError(errors.ErrorTypeBadRequest, "connection not registered")

// Registry holds connections and group memberships. All methods are safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Subscriber
	members map[string]map[string]*Subscriber
	buffer  int
	logger  *slog.Logger
}

// New creates a registry whose subscribers queue up to buffer messages.
func New(buffer int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = 1
	}
	return &Registry{
		conns:   make(map[string]*Subscriber),
		members: make(map[string]map[string]*Subscriber),
		buffer:  buffer,
		logger:  logger.With("component", "registry"),
	}
}

// Register creates a live entry with no groups. The subscriber's context is
// derived from ctx and cancelled by Unregister.
func (r *Registry) Register(ctx context.Context, id string) (*Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, fmt.Sprintf("connection %s already registered", id))
	}

	sub := newSubscriber(ctx, id, r.buffer)
	r.conns[id] = sub
	r.logger.Debug("Subscriber registered", "connectionID", id)
	return sub, nil
}

// Join adds the connection to group. Joining twice is a no-op.
func (r *Registry) Join(id, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.conns[id]
	if !ok {
		return ErrNotRegistered
	}

	set, ok := r.members[group]
	if !ok {
		set = make(map[string]*Subscriber)
		r.members[group] = set
	}
	set[id] = sub
	sub.groups[group] = struct{}{}
	return nil
}

// Leave removes the connection from group. Leaving a group that was never
// joined is a no-op.
func (r *Registry) Leave(id, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.conns[id]
	if !ok {
		return ErrNotRegistered
	}

	r.removeMember(group, id)
	delete(sub.groups, group)
	return nil
}

// Unregister removes the connection with all its memberships and cancels
// it. It reports whether the connection was registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	sub, ok := r.conns[id]
	if ok {
		for group := range sub.groups {
			r.removeMember(group, id)
		}
		sub.groups = nil
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		sub.cancel()
		r.logger.Debug("Subscriber unregistered", "connectionID", id)
	}
	return ok
}

// removeMember must be called with mu held
func (r *Registry) removeMember(group, id string) {
	set, ok := r.members[group]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.members, group)
	}
}

// MembersOf returns the connections joined to group at call time.
func (r *Registry) MembersOf(group string) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[group]
	out := make([]*Subscriber, 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	return out
}

// Get returns a registered connection
func (r *Registry) Get(id string) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.conns[id]
	return sub, ok
}

// GroupsOf returns the sorted groups a connection has joined
func (r *Registry) GroupsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.conns[id]
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(sub.groups))
	for g := range sub.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// GroupCount returns the number of groups with at least one member
func (r *Registry) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Close unregisters every connection.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}

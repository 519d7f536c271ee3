// Package control is the loopback-only administrative surface: a restart
// request moves the relay from running to draining, after which the process
// exits and its supervisor starts it again.
package control

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"ferryx/pkg/errors"
	"ferryx/pkg/metrics"
)

// State of the control plane
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrStopped is returned for requests arriving after shutdown completed
var ErrStopped = errors.NewError(errors.ErrorTypeUnavailable, "stopping")

// Plane holds the restart state machine. Transitions only move forward.
type Plane struct {
	state    atomic.Int32
	draining chan struct{}
	once     sync.Once
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewPlane creates a plane in the running state
func NewPlane(logger *slog.Logger) *Plane {
	return &Plane{
		draining: make(chan struct{}),
		logger:   logger.With("component", "control"),
	}
}

// WithMetrics records request outcomes
func (p *Plane) WithMetrics(m *metrics.Metrics) *Plane {
	p.metrics = m
	return p
}

// State returns the current state
func (p *Plane) State() State {
	return State(p.state.Load())
}

// Draining is closed when a restart has been accepted
func (p *Plane) Draining() <-chan struct{} {
	return p.draining
}

// RequestRestart accepts a restart from a loopback source address and
// starts draining. source is a host or host:port. Repeated requests while
// draining are accepted as no-ops; requests after Stopped fail.
func (p *Plane) RequestRestart(source string) error {
	if !IsLoopback(source) {
		p.count("rejected")
		p.logger.Warn("Restart rejected from non-loopback source", "remote", source)
		return errors.NewError(errors.ErrorTypeUnauthorized, "control requests must originate from loopback").
			WithDetail("remote", source)
	}

	if p.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		p.count("accepted")
		p.logger.Info("Restart requested", "remote", source)
		p.once.Do(func() { close(p.draining) })
		return nil
	}

	if p.State() == StateStopped {
		p.count("stopped")
		return ErrStopped
	}
	p.count("noop")
	p.logger.Debug("Restart already in progress", "remote", source)
	return nil
}

// MarkStopped enters the terminal state
func (p *Plane) MarkStopped() {
	p.state.Store(int32(StateStopped))
	p.once.Do(func() { close(p.draining) })
}

func (p *Plane) count(result string) {
	if p.metrics != nil {
		p.metrics.ControlRequests.WithLabelValues(result).Inc()
	}
}

// IsLoopback reports whether addr (host or host:port) is a loopback IP.
// Hostnames are not resolved.
func IsLoopback(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

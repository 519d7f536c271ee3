package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	httpAdapter "ferryx/internal/adapter/http"
	"ferryx/internal/broker"
	"ferryx/internal/config"
	"ferryx/internal/control"
	"ferryx/internal/dispatch"
	"ferryx/internal/registry"
	"ferryx/internal/telemetry"
)

// DefaultShutdownTimeout bounds graceful stop
const DefaultShutdownTimeout = 10 * time.Second

// Server is the running relay
type Server struct {
	config     *config.Config
	registry   *registry.Registry
	broker     broker.Broker
	dispatcher *dispatch.Dispatcher
	public     *httpAdapter.Adapter
	plane      *control.Plane
	control    *control.Server
	watcher    *config.Watcher
	telemetry  *telemetry.Telemetry
	logger     *slog.Logger

	cancel context.CancelFunc
}

// NewServer builds the relay from a loaded store
func NewServer(ctx context.Context, store *config.Store, version string, logger *slog.Logger) (*Server, error) {
	return NewBuilder(store, version, logger).Build(ctx)
}

// Start subscribes the dispatcher and binds both listeners. It returns once
// the relay is serving.
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.dispatcher.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("dispatcher: %w", err)
	}

	if err := s.control.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("control plane: %w", err)
	}

	if err := s.public.Start(runCtx); err != nil {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer stopCancel()
		s.control.Stop(stopCtx)
		return fmt.Errorf("public server: %w", err)
	}

	if s.watcher != nil {
		s.watcher.Start()
	}

	s.logger.Info("Ferryx hub started",
		"env", s.config.Server.Env,
		"public", s.public.Addr(),
		"control", s.control.Addr(),
		"broker", s.broker.Name(),
		"services", len(s.config.Services),
	)
	return nil
}

// Run starts the relay and blocks until ctx is done or a restart is
// requested on the control plane, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case <-s.plane.Draining():
		s.logger.Info("Restart requested, draining")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Plane returns the control-plane state machine
func (s *Server) Plane() *control.Plane {
	return s.plane
}

// PublicAddr returns the bound public address
func (s *Server) PublicAddr() string {
	return s.public.Addr()
}

// ControlAddr returns the bound control address
func (s *Server) ControlAddr() string {
	return s.control.Addr()
}

// Stop closes subscribers, stops both listeners and flushes telemetry. The
// control plane ends Stopped.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping config watcher: %w", err))
		}
	}

	if err := s.public.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping public server: %w", err))
	}
	s.registry.Close()

	if s.cancel != nil {
		s.cancel()
	}
	if err := s.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing broker: %w", err))
	}

	s.plane.MarkStopped()
	if err := s.control.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping control plane: %w", err))
	}

	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing telemetry: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	s.logger.Info("Ferryx hub stopped")
	return nil
}

// Package http serves the public surface of the relay: the health banner,
// the publish endpoint and the WebSocket subscriber channel.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"ferryx/internal/dispatch"
	"ferryx/internal/middleware"
	"ferryx/internal/middleware/auth"
	"ferryx/internal/middleware/auth/jwt"
	"ferryx/internal/middleware/cors"
	"ferryx/internal/middleware/recovery"
	"ferryx/internal/registry"
	"ferryx/internal/telemetry"
	"ferryx/pkg/errors"
	"ferryx/pkg/metrics"
)

// Route paths
const (
	RootPath    = "/"
	PublishPath = "/api/deploy"
	HubPath     = "/hubs/deploy"
)

// Publisher accepts deploy events from authenticated callers
type Publisher interface {
	Publish(ctx context.Context, event dispatch.Event, caller *auth.AuthInfo) (*dispatch.Result, error)
}

// Adapter is the public HTTP server
type Adapter struct {
	config    Config
	publisher Publisher
	hub       *Hub
	provider  auth.Provider
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics
	cors      *cors.CORS
	logger    *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates the public server. Subscriber connections are registered in
// reg; publishers and subscribers authenticate against provider.
func New(cfg Config, publisher Publisher, reg *registry.Registry, provider auth.Provider, logger *slog.Logger) *Adapter {
	if cfg.Origins == nil {
		cfg.Origins = func() []string { return []string{"*"} }
	}
	logger = logger.With("component", "http")
	c := cors.New(cors.DefaultConfig(), cfg.Origins)

	return &Adapter{
		config:    cfg,
		publisher: publisher,
		hub:       NewHub(cfg.Subscribers, reg, c.CheckOrigin, jwt.NewExpiryWatcher(logger), logger),
		provider:  provider,
		telemetry: telemetry.Noop(),
		cors:      c,
		logger:    logger,
	}
}

// WithMetrics records HTTP and subscriber metrics
func (a *Adapter) WithMetrics(m *metrics.Metrics) *Adapter {
	a.metrics = m
	a.hub.metrics = m
	return a
}

// WithTelemetry traces HTTP requests
func (a *Adapter) WithTelemetry(t *telemetry.Telemetry) *Adapter {
	a.telemetry = t
	return a
}

// Hub returns the subscriber channel
func (a *Adapter) Hub() *Hub {
	return a.hub
}

// Handler returns the full middleware-wrapped route tree
func (a *Adapter) Handler() http.Handler {
	publishAuth := auth.NewMiddleware(a.provider, a.logger, jwt.NewExtractor())
	hubAuth := auth.NewMiddleware(a.provider, a.logger, jwt.NewQueryExtractor())
	if a.metrics != nil {
		hubAuth.OnFailure(func(r *http.Request, err error) {
			a.metrics.SubscriberConnections.WithLabelValues("unauthorized").Inc()
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc(RootPath, a.handleRoot)
	mux.Handle(PublishPath, publishAuth.Handler(http.HandlerFunc(a.handlePublish)))
	mux.Handle(HubPath, hubAuth.Handler(a.hub))

	return middleware.Chain(
		telemetry.NewMiddleware(a.telemetry, a.metrics).WrapHTTP,
		recovery.Default(a.logger),
		middleware.RequestID(),
		middleware.Logging(a.logger),
		a.cors.Handler,
	)(mux)
}

// Start binds the listener and serves in the background
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return errors.NewError(errors.ErrorTypeInternal, "public server already running")
	}

	addr := net.JoinHostPort(a.config.Host, fmt.Sprint(a.config.Port))

	// Create listener to detect bind errors early
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewError(errors.ErrorTypeUnavailable, fmt.Sprintf("failed to bind to %s", addr)).WithCause(err)
	}

	a.listener = listener
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.config.ReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	a.logger.Info("Public server listening", "addr", listener.Addr().String())

	server := a.server
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Public server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start
func (a *Adapter) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop closes subscriber connections and shuts the server down
func (a *Adapter) Stop(ctx context.Context) error {
	a.hub.Close()

	a.mu.Lock()
	server := a.server
	a.mu.Unlock()
	if server == nil {
		return nil
	}

	a.logger.Info("Stopping public server")
	return server.Shutdown(ctx)
}

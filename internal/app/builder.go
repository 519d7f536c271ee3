package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpAdapter "ferryx/internal/adapter/http"
	"ferryx/internal/broker"
	"ferryx/internal/broker/memory"
	redisbroker "ferryx/internal/broker/redis"
	"ferryx/internal/config"
	"ferryx/internal/control"
	"ferryx/internal/dispatch"
	"ferryx/internal/middleware/auth/jwt"
	"ferryx/internal/registry"
	"ferryx/internal/retry"
	"ferryx/internal/telemetry"
	"ferryx/pkg/metrics"
)

// Builder builds the relay from a loaded config store
type Builder struct {
	store   *config.Store
	version string
	logger  *slog.Logger
}

// NewBuilder creates a new application builder. The store must already be
// loaded.
func NewBuilder(store *config.Store, version string, logger *slog.Logger) *Builder {
	return &Builder{
		store:   store,
		version: version,
		logger:  logger,
	}
}

// Build constructs the relay. Ports, bind address, broker and tracing are
// taken from the current snapshot; services and origins are read live.
func (b *Builder) Build(ctx context.Context) (*Server, error) {
	cfg := b.store.Current()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics := metrics.NewWithRegistry(promRegistry)

	tel, err := telemetry.New(cfg.Telemetry.Tracing, b.version)
	if err != nil {
		return nil, fmt.Errorf("creating telemetry: %w", err)
	}
	if cfg.Telemetry.Tracing.Enabled {
		b.logger.Info("Tracing enabled", "endpoint", cfg.Telemetry.Tracing.Endpoint)
	}

	bus, err := b.createBroker(ctx, cfg.Broker, relayMetrics)
	if err != nil {
		tel.Shutdown(context.Background())
		return nil, fmt.Errorf("creating broker: %w", err)
	}

	reg := registry.New(cfg.Subscribers.SendBuffer, b.logger)
	dispatcher := dispatch.New(b.store, reg, bus, b.logger,
		dispatch.WithMetrics(relayMetrics),
		dispatch.WithTelemetry(tel),
	)

	provider := jwt.NewProvider(func() string {
		if current := b.store.Current(); current != nil {
			return current.Security.JWTKey
		}
		return ""
	}).WithExpiry(func() bool {
		current := b.store.Current()
		return current != nil && current.Security.TTL() > 0
	})
	origins := func() []string {
		if current := b.store.Current(); current != nil {
			return current.Cors.AllowedOrigins
		}
		return nil
	}

	public := httpAdapter.New(httpAdapter.FromConfig(cfg, origins), dispatcher, reg, provider, b.logger).
		WithMetrics(relayMetrics).
		WithTelemetry(tel)

	plane := control.NewPlane(b.logger).WithMetrics(relayMetrics)
	controlServer := control.NewServer(cfg.Server.ControlPort, plane, reg, promRegistry, b.logger)

	watcher, err := config.NewWatcher(b.store, &config.WatcherConfig{
		DebounceDuration: config.DefaultWatcherConfig().DebounceDuration,
		OnChange: func(*config.Config) {
			relayMetrics.ConfigReloads.WithLabelValues("success").Inc()
		},
		OnError: func(error) {
			relayMetrics.ConfigReloads.WithLabelValues("error").Inc()
		},
	}, b.logger)
	if err != nil {
		// hot reload is optional; the relay still runs on the boot snapshot
		b.logger.Warn("Config hot reload disabled", "error", err)
		watcher = nil
	}

	return &Server{
		config:     cfg,
		registry:   reg,
		broker:     bus,
		dispatcher: dispatcher,
		public:     public,
		plane:      plane,
		control:    controlServer,
		watcher:    watcher,
		telemetry:  tel,
		logger:     b.logger,
	}, nil
}

func (b *Builder) createBroker(ctx context.Context, cfg config.Broker, m *metrics.Metrics) (broker.Broker, error) {
	switch cfg.Type {
	case config.BrokerRedis:
		var client *redisbroker.ClientAdapter
		err := retry.New(retry.DefaultConfig(), b.logger).Do(ctx, "redis dial", func(ctx context.Context) error {
			var err error
			client, err = redisbroker.Dial(ctx, cfg.Redis, b.logger)
			return err
		})
		if err != nil {
			return nil, err
		}
		b.logger.Info("Using Redis broker", "channel", cfg.Redis.Channel)
		return redisbroker.New(client, cfg.Redis.Channel, b.logger).
			OnError(func(op string, err error) {
				m.BrokerErrors.WithLabelValues("redis", op).Inc()
			}), nil
	case config.BrokerMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Type)
	}
}

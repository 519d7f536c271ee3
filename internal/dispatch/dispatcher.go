// Package dispatch authorizes deploy events against the configured services
// and fans them out to the subscriber groups each service maps to.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"ferryx/internal/broker"
	"ferryx/internal/config"
	"ferryx/internal/middleware/auth"
	"ferryx/internal/registry"
	"ferryx/internal/telemetry"
	"ferryx/pkg/errors"
	"ferryx/pkg/metrics"
)

// ConfigSource returns the live configuration snapshot
type ConfigSource interface {
	Current() *config.Config
}

// Result is returned to the publisher
type Result struct {
	// Service is the configured name the target matched
	Service string
	// Groups the event was addressed to, possibly empty
	Groups []string
}

// Stats describes one local fan-out
type Stats struct {
	Recipients int
	Delivered  int
	Dropped    int
	Failed     int
}

// Dispatcher publishes deploy events and delivers them to local subscribers
type Dispatcher struct {
	config    ConfigSource
	registry  *registry.Registry
	broker    broker.Broker
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithMetrics records publish and delivery metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTelemetry traces publish and fan-out
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Dispatcher) { d.telemetry = t }
}

// New creates a dispatcher
func New(cfg ConfigSource, reg *registry.Registry, b broker.Broker, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		config:    cfg,
		registry:  reg,
		broker:    b,
		telemetry: telemetry.Noop(),
		logger:    logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start subscribes the dispatcher to the broker. Events published by any
// instance on the bus are fanned out locally until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.broker.Subscribe(ctx, d.handle)
}

// Publish authorizes event against the configured services and hands it to
// the broker. An unknown target fails with service_not_allowed before
// anything is sent.
func (d *Dispatcher) Publish(ctx context.Context, event Event, caller *auth.AuthInfo) (*Result, error) {
	if caller == nil {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "unauthenticated publisher")
	}

	ctx, span := d.telemetry.StartPublishSpan(ctx, event.Target)
	defer span.End()

	cfg := d.config.Current()
	if cfg == nil {
		return nil, errors.NewError(errors.ErrorTypeUnavailable, "configuration not loaded")
	}

	name, entry, ok := cfg.Lookup(event.Target)
	if !ok {
		d.count("rejected")
		err := errors.NewError(errors.ErrorTypeServiceNotAllowed, "Service not allowed").
			WithDetail("target", event.Target)
		telemetry.RecordError(ctx, err)
		d.logger.Warn("Deploy rejected", "target", event.Target, "subject", caller.Subject)
		return nil, err
	}

	groups := append([]string(nil), entry.Groups...)
	if groups == nil {
		groups = []string{}
	}
	telemetry.SetAttributes(ctx, attribute.StringSlice("ferryx.groups", groups))

	d.logger.Info("Deploy published",
		"target", event.Target,
		"tag", event.Tag,
		"env", event.Env,
		"groups", groups,
		"subject", caller.Subject,
	)

	if len(groups) == 0 {
		d.count("published")
		return &Result{Service: name, Groups: groups}, nil
	}

	payload, err := json.Marshal(Envelope{
		ID:     uuid.NewString(),
		Groups: groups,
		Event:  event,
		Trace:  d.telemetry.Inject(ctx),
	})
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "event cannot be encoded").WithCause(err)
	}

	if err := d.broker.Publish(ctx, payload); err != nil {
		d.count("broker_error")
		if d.metrics != nil {
			d.metrics.BrokerErrors.WithLabelValues(d.broker.Name(), "publish").Inc()
		}
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	d.count("published")
	return &Result{Service: name, Groups: groups}, nil
}

func (d *Dispatcher) count(result string) {
	if d.metrics != nil {
		d.metrics.DeploysTotal.WithLabelValues(result).Inc()
	}
}

// handle decodes a broker payload and fans it out
func (d *Dispatcher) handle(ctx context.Context, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.logger.Error("Discarding undecodable envelope", "error", err)
		if d.metrics != nil {
			d.metrics.BrokerErrors.WithLabelValues(d.broker.Name(), "decode").Inc()
		}
		return
	}
	d.Fanout(ctx, env)
}

// Fanout queues the envelope's event to every local connection joined to
// any of its groups. Each connection receives the event at most once.
// Delivery is best effort: a subscriber whose queue is full is disconnected
// and the others are unaffected.
func (d *Dispatcher) Fanout(ctx context.Context, env Envelope) Stats {
	ctx, span := d.telemetry.StartFanoutSpan(ctx, env.Trace, env.Groups)
	defer span.End()
	start := time.Now()

	frame, err := EncodeEvent(env.Event)
	if err != nil {
		d.logger.Error("Failed to encode deploy frame", "error", err)
		return Stats{}
	}

	var stats Stats
	seen := make(map[string]struct{})
	for _, group := range env.Groups {
		for _, sub := range d.registry.MembersOf(group) {
			if _, dup := seen[sub.ID()]; dup {
				continue
			}
			seen[sub.ID()] = struct{}{}
			stats.Recipients++

			switch err := sub.TrySend(frame); err {
			case nil:
				stats.Delivered++
			case registry.ErrBufferFull:
				stats.Dropped++
				d.logger.Warn("Slow subscriber dropped", "connectionID", sub.ID(), "group", group)
				d.registry.Unregister(sub.ID())
			default:
				stats.Failed++
				d.logger.Debug("Delivery failed",
					"connectionID", sub.ID(),
					"error", errors.NewError(errors.ErrorTypeDeliveryFailure, fmt.Sprintf("deliver %s", env.ID)).WithCause(err),
				)
			}
		}
	}

	telemetry.SetAttributes(ctx,
		attribute.Int("ferryx.recipients", stats.Recipients),
		attribute.Int("ferryx.delivered", stats.Delivered),
	)
	if d.metrics != nil {
		d.metrics.DeliveriesTotal.WithLabelValues("delivered").Add(float64(stats.Delivered))
		d.metrics.DeliveriesTotal.WithLabelValues("dropped").Add(float64(stats.Dropped))
		d.metrics.DeliveriesTotal.WithLabelValues("failed").Add(float64(stats.Failed))
		d.metrics.FanoutDuration.Observe(time.Since(start).Seconds())
	}
	return stats
}

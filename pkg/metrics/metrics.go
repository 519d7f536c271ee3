package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Publish metrics
	DeploysTotal    *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	FanoutDuration  prometheus.Histogram

	// Subscriber metrics
	SubscribersConnected   prometheus.Gauge
	SubscriberConnections  *prometheus.CounterVec
	SubscriberFramesRecvd  prometheus.Counter
	SubscriberGroupsActive prometheus.Gauge

	// Broker metrics
	BrokerErrors *prometheus.CounterVec

	// Control plane and config metrics
	ControlRequests *prometheus.CounterVec
	ConfigReloads   *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferryx_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferryx_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		DeploysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferryx_deploys_total",
				Help: "Deploy events submitted by publishers",
			},
			[]string{"result"},
		),
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferryx_deliveries_total",
				Help: "Per-subscriber deliveries of deploy events",
			},
			[]string{"result"},
		),
		FanoutDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ferryx_fanout_duration_seconds",
				Help:    "Time to queue one deploy event to all local subscribers",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),

		SubscribersConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ferryx_subscribers_connected",
				Help: "Number of live subscriber connections",
			},
		),
		SubscriberConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferryx_subscriber_connections_total",
				Help: "Subscriber connection attempts by outcome",
			},
			[]string{"status"},
		),
		SubscriberFramesRecvd: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ferryx_subscriber_frames_received_total",
				Help: "Frames received from subscribers",
			},
		),
		SubscriberGroupsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ferryx_subscriber_groups_active",
				Help: "Groups with at least one live member",
			},
		),

		BrokerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferryx_broker_errors_total",
				Help: "Broker publish and receive errors",
			},
			[]string{"broker", "op"},
		),

		ControlRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferryx_control_requests_total",
				Help: "Control plane restart requests by outcome",
			},
			[]string{"result"},
		),
		ConfigReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferryx_config_reloads_total",
				Help: "Configuration reloads by outcome",
			},
			[]string{"result"},
		),
	}
}

// NormalizePath normalizes the path for metrics labels to avoid high cardinality
func NormalizePath(path string) string {
	const maxLength = 50
	if len(path) > maxLength {
		return path[:maxLength] + "..."
	}
	return path
}

package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ferryx/internal/config"
	"ferryx/internal/middleware/auth"
	"ferryx/internal/middleware/auth/jwt"
	"ferryx/internal/registry"
	"ferryx/pkg/metrics"
	"ferryx/pkg/requestid"
)

const (
	// maxFrameSize caps client frames; they only carry join and leave
	maxFrameSize = 4096

	defaultMaxConnections = 1024
)

// Hub upgrades authenticated requests to WebSocket subscriber connections
// and pumps registry messages to them.
type Hub struct {
	settings      config.Subscribers
	registry      *registry.Registry
	upgrader      *websocket.Upgrader
	expiry        *jwt.ExpiryWatcher
	metrics       *metrics.Metrics
	logger        *slog.Logger
	connSemaphore chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a subscriber hub
func NewHub(settings config.Subscribers, reg *registry.Registry, checkOrigin func(*http.Request) bool, expiry *jwt.ExpiryWatcher, logger *slog.Logger) *Hub {
	maxConns := settings.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		settings:      settings,
		registry:      reg,
		expiry:        expiry,
		logger:        logger.With("component", "hub"),
		connSemaphore: make(chan struct{}, maxConns),
		ctx:           ctx,
		cancel:        cancel,
	}
	h.upgrader = &websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin:      checkOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			h.logger.Warn("WebSocket upgrade error",
				"status", status,
				"error", reason,
				"remote", r.RemoteAddr,
			)
			writeError(w, status, http.StatusText(status))
		},
	}
	return h
}

// Close disconnects every subscriber. Later upgrades are refused.
func (h *Hub) Close() {
	h.cancel()
}

// ServeHTTP handles one subscriber connection for its whole lifetime. The
// request must already be authenticated.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "stopping")
		return
	}

	select {
	case h.connSemaphore <- struct{}{}:
		defer func() { <-h.connSemaphore }()
	default:
		h.logger.Warn("Max subscriber connections reached, rejecting new connection",
			"remote", r.RemoteAddr,
			"maxConnections", cap(h.connSemaphore),
		)
		h.countConnection("rejected")
		writeError(w, http.StatusServiceUnavailable, "Too many connections")
		return
	}

	info, _ := auth.GetAuthInfo(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader.Error already responded
		h.countConnection("failed")
		return
	}

	id := requestid.NewConnectionID()
	sub, err := h.registry.Register(h.ctx, id)
	if err != nil {
		h.logger.Error("Failed to register subscriber", "connectionID", id, "error", err)
		h.countConnection("failed")
		closeWith(conn, websocket.CloseInternalServerErr, "registration failed")
		conn.Close()
		return
	}

	h.countConnection("established")
	if h.metrics != nil {
		h.metrics.SubscribersConnected.Inc()
		defer h.metrics.SubscribersConnected.Dec()
	}
	h.logger.Info("Subscriber connected", "connectionID", id, "remote", r.RemoteAddr)

	defer func() {
		h.registry.Unregister(id)
		h.expiry.Stop(id)
		conn.Close()
		h.updateGroups()
		h.logger.Info("Subscriber disconnected", "connectionID", id, "remote", r.RemoteAddr)
	}()

	for _, group := range initialGroups(r) {
		if err := h.registry.Join(id, group); err == nil {
			h.logger.Debug("Subscriber joined group", "connectionID", id, "group", group)
		}
	}
	h.updateGroups()

	h.expiry.Watch(sub.Context(), id, info, func() {
		closeWith(conn, websocket.ClosePolicyViolation, "token expired")
		h.registry.Unregister(id)
	})

	c := &subscriberConn{
		ws:       conn,
		sub:      sub,
		hub:      h,
		settings: h.settings,
	}
	go c.writePump()
	c.readPump()
}

// initialGroups reads repeated group query parameters
func initialGroups(r *http.Request) []string {
	var groups []string
	for _, g := range r.URL.Query()["group"] {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

func (h *Hub) countConnection(status string) {
	if h.metrics != nil {
		h.metrics.SubscriberConnections.WithLabelValues(status).Inc()
	}
}

func (h *Hub) updateGroups() {
	if h.metrics != nil {
		h.metrics.SubscriberGroupsActive.Set(float64(h.registry.GroupCount()))
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

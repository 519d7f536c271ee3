package control

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	metricshandler "ferryx/internal/metrics"
	"ferryx/pkg/errors"
)

const (
	RestartPath = "/__control/restart"
	HealthPath  = "/__control/health"
	MetricsPath = "/metrics"
)

// Stats reports subscriber counts for the health endpoint
type Stats interface {
	Len() int
	GroupCount() int
}

// Server serves the control plane on a loopback listener, separate from
// the public listener.
type Server struct {
	port      int
	plane     *Plane
	stats     Stats
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	mux       *http.ServeMux
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Subscribers int    `json:"subscribers"`
	Groups      int    `json:"groups"`
}

// NewServer creates the control server. stats and gatherer may be nil.
func NewServer(port int, plane *Plane, stats Stats, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		port:      port,
		plane:     plane,
		stats:     stats,
		gatherer:  gatherer,
		logger:    logger.With("component", "control-api"),
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc(RestartPath, s.handleRestart)
	s.mux.HandleFunc(HealthPath, s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle(MetricsPath, metricshandler.Handler(s.gatherer))
	}
}

// Handler returns the control routes
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds 127.0.0.1:port and serves in the background. Binding fails
// immediately if the port is taken.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	s.mu.Lock()
	defer s.mu.Unlock()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewError(errors.ErrorTypeInternal, fmt.Sprintf("failed to bind control listener to %s", addr)).
			WithCause(err)
	}

	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = listener
	s.server = server

	go func() {
		s.logger.Info("Control plane listening", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	s.logger.Info("Stopping control plane")
	return server.Shutdown(ctx)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.plane.RequestRestart(r.RemoteAddr); err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			s.writeError(w, e.HTTPStatusCode(), e.Message)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := HealthResponse{
		Status: s.plane.State().String(),
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.stats != nil {
		resp.Subscribers = s.stats.Len()
		resp.Groups = s.stats.GroupCount()
	}

	status := http.StatusOK
	if s.plane.State() != StateRunning {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

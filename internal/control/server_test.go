package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"ferryx/pkg/metrics"
)

type fakeStats struct{ conns, groups int }

func (f fakeStats) Len() int        { return f.conns }
func (f fakeStats) GroupCount() int { return f.groups }

func serve(s *Server, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Restart(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		remote     string
		wantStatus int
		wantState  State
	}{
		{name: "loopback v4", method: http.MethodPost, remote: "127.0.0.1:5555", wantStatus: http.StatusOK, wantState: StateDraining},
		{name: "loopback v6", method: http.MethodPost, remote: "[::1]:5555", wantStatus: http.StatusOK, wantState: StateDraining},
		{name: "remote host", method: http.MethodPost, remote: "203.0.113.9:5555", wantStatus: http.StatusUnauthorized, wantState: StateRunning},
		{name: "wrong method", method: http.MethodGet, remote: "127.0.0.1:5555", wantStatus: http.StatusMethodNotAllowed, wantState: StateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plane := NewPlane(slog.Default())
			s := NewServer(0, plane, nil, nil, slog.Default())

			rec := serve(s, tt.method, RestartPath, tt.remote)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if plane.State() != tt.wantState {
				t.Errorf("state = %v, want %v", plane.State(), tt.wantState)
			}
			if tt.wantStatus == http.StatusOK {
				var body map[string]bool
				json.NewDecoder(rec.Body).Decode(&body)
				if !body["ok"] {
					t.Errorf("body = %v", body)
				}
			}
		})
	}
}

func TestServer_RestartAfterStop(t *testing.T) {
	plane := NewPlane(slog.Default())
	s := NewServer(0, plane, nil, nil, slog.Default())
	plane.MarkStopped()

	rec := serve(s, http.MethodPost, RestartPath, "127.0.0.1:1")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	plane := NewPlane(slog.Default())
	s := NewServer(0, plane, fakeStats{conns: 3, groups: 2}, nil, slog.Default())

	rec := serve(s, http.MethodGet, HealthPath, "127.0.0.1:1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "running" || resp.Subscribers != 3 || resp.Groups != 2 {
		t.Errorf("health = %+v", resp)
	}

	plane.RequestRestart("127.0.0.1:1")
	if rec := serve(s, http.MethodGet, HealthPath, "127.0.0.1:1"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("draining health status = %d, want 503", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)
	plane := NewPlane(slog.Default()).WithMetrics(m)
	s := NewServer(0, plane, nil, registry, slog.Default())

	serve(s, http.MethodPost, RestartPath, "198.51.100.1:1")

	rec := serve(s, http.MethodGet, MetricsPath, "127.0.0.1:1")
	if !strings.Contains(rec.Body.String(), `ferryx_control_requests_total{result="rejected"} 1`) {
		t.Errorf("metrics missing rejected counter:\n%s", rec.Body.String())
	}
}

func TestServer_StartBindsLoopback(t *testing.T) {
	plane := NewPlane(slog.Default())
	s := NewServer(0, plane, nil, nil, slog.Default())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	if !strings.HasPrefix(s.Addr(), "127.0.0.1:") {
		t.Errorf("Addr() = %q, want loopback", s.Addr())
	}

	resp, err := http.Post("http://"+s.Addr()+RestartPath, "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	<-plane.Draining()
}

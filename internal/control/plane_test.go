package control

import (
	stderrors "errors"
	"log/slog"
	"testing"

	"ferryx/pkg/errors"
)

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5000", true},
		{"127.0.0.1", true},
		{"127.8.9.10:1", true},
		{"[::1]:5000", true},
		{"::1", true},
		{"[::ffff:127.0.0.1]:80", true},
		{"10.0.0.5:5000", false},
		{"192.0.2.1:1234", false},
		{"[2001:db8::1]:80", false},
		{"localhost:80", false},
		{"", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := IsLoopback(tt.addr); got != tt.want {
				t.Errorf("IsLoopback(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestPlane_NonLoopbackNeverTransitions(t *testing.T) {
	p := NewPlane(slog.Default())

	for _, addr := range []string{"10.0.0.5:1", "192.168.1.1:2", "[2001:db8::1]:3"} {
		err := p.RequestRestart(addr)
		if !stderrors.Is(err, errors.ErrUnauthorized) {
			t.Errorf("RequestRestart(%s) = %v, want unauthorized", addr, err)
		}
	}
	if p.State() != StateRunning {
		t.Errorf("state = %v, want running", p.State())
	}
	select {
	case <-p.Draining():
		t.Error("draining signalled after rejected requests")
	default:
	}
}

func TestPlane_RestartLifecycle(t *testing.T) {
	p := NewPlane(slog.Default())

	if err := p.RequestRestart("127.0.0.1:40000"); err != nil {
		t.Fatalf("RequestRestart() error = %v", err)
	}
	if p.State() != StateDraining {
		t.Fatalf("state = %v, want draining", p.State())
	}
	<-p.Draining()

	if err := p.RequestRestart("[::1]:40001"); err != nil {
		t.Errorf("repeat while draining should be a no-op, got %v", err)
	}

	p.MarkStopped()
	if p.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", p.State())
	}
	if err := p.RequestRestart("127.0.0.1:40002"); err != ErrStopped {
		t.Errorf("after stop = %v, want ErrStopped", err)
	}
	if err := p.RequestRestart("10.0.0.1:1"); !stderrors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("non-loopback after stop = %v, want unauthorized", err)
	}
}

func TestPlane_MarkStoppedWithoutRestart(t *testing.T) {
	p := NewPlane(slog.Default())
	p.MarkStopped()
	p.MarkStopped()
	<-p.Draining()
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ferryx/internal/config"
	"ferryx/internal/control"
	"ferryx/internal/middleware/auth/jwt"
)

func run(t *testing.T, opts *config.Options, args ...string) (int, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand(opts, &out)
	root.SetArgs(args)
	root.SetErr(&errOut)
	code := execute(context.Background(), root, &errOut)
	return code, out.String() + errOut.String()
}

func tempOptions(t *testing.T) *config.Options {
	t.Helper()
	return &config.Options{ConfigPath: filepath.Join(t.TempDir(), "ferryx-hub.json")}
}

func writeConfig(t *testing.T, path string, controlPort int) {
	t.Helper()
	body := fmt.Sprintf(`{"server":{"port":18080,"controlPort":%d},"security":{"jwtKey":"a2V5"}}`, controlPort)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestWhere(t *testing.T) {
	opts := tempOptions(t)
	code, out := run(t, opts, "where")
	if code != control.ExitOK {
		t.Fatalf("exit = %d", code)
	}
	if strings.TrimSpace(out) != opts.ConfigPath {
		t.Errorf("output = %q", out)
	}
}

func TestWhere_ConfigFlag(t *testing.T) {
	opts := tempOptions(t)
	code, out := run(t, opts, "--config", "/srv/ferryx.yaml", "where")
	if code != control.ExitOK || strings.TrimSpace(out) != "/srv/ferryx.yaml" {
		t.Errorf("exit = %d, output = %q", code, out)
	}
}

func TestJWT_BootstrapsAndIssues(t *testing.T) {
	opts := tempOptions(t)
	code, out := run(t, opts, "jwt")
	if code != control.ExitOK {
		t.Fatalf("exit = %d, output %q", code, out)
	}

	cfg, err := config.NewStore(opts.ConfigPath, slog.Default()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jwt.Validate(strings.TrimSpace(out), cfg.Security.JWTKey, cfg.Security.TTL() > 0); err != nil {
		t.Errorf("issued token does not validate: %v", err)
	}
}

func TestJWT_InvalidConfig(t *testing.T) {
	opts := tempOptions(t)
	if err := os.WriteFile(opts.ConfigPath, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	code, out := run(t, opts, "jwt")
	if code != control.ExitConfig {
		t.Errorf("exit = %d, want %d", code, control.ExitConfig)
	}
	if !strings.Contains(out, "Config error") {
		t.Errorf("output = %q", out)
	}
}

func TestRestart(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode int
		wantOut  string
	}{
		{name: "accepted", status: http.StatusOK, wantCode: control.ExitOK, wantOut: "Restart requested."},
		{name: "rejected", status: http.StatusUnauthorized, wantCode: control.ExitRejected, wantOut: "Restart failed: HTTP 401"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != control.RestartPath {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			opts := tempOptions(t)
			writeConfig(t, opts.ConfigPath, srv.Listener.Addr().(*net.TCPAddr).Port)

			for _, cmd := range []string{"restart", "reconfig"} {
				code, out := run(t, opts, cmd)
				if code != tt.wantCode {
					t.Errorf("%s exit = %d, want %d", cmd, code, tt.wantCode)
				}
				if !strings.Contains(out, tt.wantOut) {
					t.Errorf("%s output = %q", cmd, out)
				}
			}
		})
	}
}

func TestRestart_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	opts := tempOptions(t)
	writeConfig(t, opts.ConfigPath, port)

	code, out := run(t, opts, "restart")
	if code != control.ExitUnreachable {
		t.Errorf("exit = %d, want %d", code, control.ExitUnreachable)
	}
	if !strings.Contains(out, control.UnreachableHint) {
		t.Errorf("output = %q", out)
	}
}

func TestReconfig_ResetBacksUp(t *testing.T) {
	opts := tempOptions(t)
	writeConfig(t, opts.ConfigPath, 1)

	// nothing listens on the new default control port in most test
	// environments; only the local effects are asserted
	_, out := run(t, opts, "reconfig", "--reset")

	matches, _ := filepath.Glob(opts.ConfigPath + ".*.bak")
	if len(matches) != 1 {
		t.Fatalf("backups = %v", matches)
	}
	if !strings.Contains(out, "Config backed up to "+matches[0]) {
		t.Errorf("output = %q", out)
	}

	cfg, err := config.NewStore(opts.ConfigPath, slog.Default()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Security.JWTKey == "a2V5" {
		t.Error("reset should generate a new secret")
	}
	if cfg.Server.ControlPort != config.DefaultControlPort {
		t.Errorf("controlPort = %d", cfg.Server.ControlPort)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, out := run(t, tempOptions(t), "launch")
	if code != control.ExitUsage {
		t.Errorf("exit = %d, want %d", code, control.ExitUsage)
	}
	if !strings.Contains(out, "Usage:") {
		t.Errorf("output = %q", out)
	}
}

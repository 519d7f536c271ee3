package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "ferryx-hub.json"), slog.Default())
	cfg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var changes []*Config
	watcher, err := NewWatcher(store, &WatcherConfig{
		DebounceDuration: 50 * time.Millisecond,
		OnChange: func(c *Config) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		},
		OnError: func(err error) {
			t.Errorf("watcher error: %v", err)
		},
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	watcher.Start()
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)

	updated := *cfg
	updated.Services = map[string]*ServiceEntry{
		"billing": {Groups: []string{"finance"}},
	}
	if err := writeFile(store.Path(), &updated); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := store.Current().Lookup("billing"); ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	current := store.Current()
	if _, _, ok := current.Lookup("billing"); !ok {
		t.Fatal("store was not reloaded after file change")
	}
	if _, _, ok := current.Lookup("my-app"); ok {
		t.Error("old service still present after reload")
	}
	if current.Security.JWTKey != cfg.Security.JWTKey {
		t.Error("reload changed the signing secret")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 {
		t.Error("OnChange was not called")
	}
}

func TestWatcher_InvalidFileKeepsSnapshot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "ferryx-hub.json"), slog.Default())
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}
	live := store.Current()

	errCh := make(chan error, 4)
	watcher, err := NewWatcher(store, &WatcherConfig{
		DebounceDuration: 50 * time.Millisecond,
		OnError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	watcher.Start()
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(store.Path(), []byte(`{"server":{"port":1,"controlPort":1}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if !strings.Contains(err.Error(), "config_invalid") {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected reload error")
	}

	if store.Current() != live {
		t.Error("invalid file replaced the live snapshot")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "ferryx-hub.json"), slog.Default())
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}
	watcher, err := NewWatcher(store, nil, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	watcher.Start()
	if err := watcher.Stop(); err != nil {
		t.Errorf("first Stop() error = %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

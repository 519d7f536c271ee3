package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ferryx/pkg/errors"
	"gopkg.in/yaml.v3"
)

// BackupTimeLayout is yyyyMMddHHmmss in UTC.
const BackupTimeLayout = "20060102150405"

// Store owns the configuration file and the live snapshot read by the rest
// of the relay. Readers call Current; Load, Reload and Reconfig publish a
// new snapshot atomically and hand the caller a private copy of it.
type Store struct {
	path    string
	logger  *slog.Logger
	now     func() time.Time
	current atomic.Pointer[Config]

	// serializes writers
	mu sync.Mutex
}

// NewStore creates a store for the config file at path
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With("component", "config"),
		now:    time.Now,
	}
}

// Path returns the config file location
func (s *Store) Path() string {
	return s.path
}

// Current returns the live snapshot, or nil before the first Load. The value
// is shared with every other reader and must not be modified; use Clone to
// derive a changed config.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Load reads the config file, bootstrapping a default one (with a fresh
// signing secret) when none exists. An existing file is never rewritten, so
// repeated loads keep the same secret.
func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		cfg, err := Default()
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to build default config").WithCause(err)
		}
		if err := writeFile(s.path, cfg); err != nil {
			return nil, err
		}
		s.logger.Info("Default config created", "path", s.path)
		s.current.Store(cfg)
		return cfg.Clone(), nil
	}

	cfg, err := readFile(s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	return cfg.Clone(), nil
}

// Reload re-reads the file and swaps the snapshot. On failure the previous
// snapshot stays live.
func (s *Store) Reload() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := readFile(s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	s.logger.Info("Configuration reloaded", "path", s.path, "services", len(cfg.Services))
	return cfg.Clone(), nil
}

// Reconfig backs up the existing file (if any) and replaces it with a fresh
// default configuration, including a new signing secret. It returns the
// backup path, empty when there was nothing to back up.
func (s *Store) Reconfig() (string, *Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var backup string
	if _, err := os.Stat(s.path); err == nil {
		backup, err = s.backup()
		if err != nil {
			return "", nil, err
		}
		s.logger.Info("Config backed up", "path", s.path, "backup", backup)
	}

	cfg, err := Default()
	if err != nil {
		return "", nil, errors.NewError(errors.ErrorTypeInternal, "failed to build default config").WithCause(err)
	}
	if err := writeFile(s.path, cfg); err != nil {
		return backup, nil, err
	}
	s.current.Store(cfg)
	s.logger.Info("Default config written", "path", s.path)
	return backup, cfg.Clone(), nil
}

// BackupPath returns the backup name for a config path at time t.
func BackupPath(path string, t time.Time) string {
	return fmt.Sprintf("%s.%s.bak", path, t.UTC().Format(BackupTimeLayout))
}

// backup copies the config file to a new timestamped file. It never
// overwrites an earlier backup taken in the same second.
func (s *Store) backup() (string, error) {
	src, err := os.Open(s.path)
	if err != nil {
		return "", errors.NewError(errors.ErrorTypeInternal, "failed to open config for backup").WithCause(err)
	}
	defer src.Close()

	base := BackupPath(s.path, s.now())
	name := base
	var dst *os.File
	for i := 1; ; i++ {
		dst, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			break
		}
		if !os.IsExist(err) || i > 100 {
			return "", errors.NewError(errors.ErrorTypeInternal, "failed to create backup").WithCause(err)
		}
		name = fmt.Sprintf("%s.%d.bak", strings.TrimSuffix(base, ".bak"), i)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(name)
		return "", errors.NewError(errors.ErrorTypeInternal, "failed to write backup").WithCause(err)
	}
	if err := dst.Close(); err != nil {
		return "", errors.NewError(errors.ErrorTypeInternal, "failed to write backup").WithCause(err)
	}
	return name, nil
}

// Parse decodes, normalizes and validates config data. The format is chosen
// from the path extension.
func Parse(path string, data []byte) (*Config, error) {
	var cfg Config
	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, errors.ConfigInvalid(path, fmt.Sprintf("invalid config at %s", path)).WithCause(err)
	}

	Normalize(&cfg)
	if err := Validate(&cfg, path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes cfg in the format implied by path.
func Marshal(path string, cfg *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to read config file").
			WithCause(err).
			WithDetail("path", path)
	}
	return Parse(path, data)
}

// writeFile replaces path atomically: temp file in the same directory,
// fsync, rename.
func writeFile(path string, cfg *Config) error {
	data, err := Marshal(path, cfg)
	if err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "failed to encode config").WithCause(err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "failed to create config directory").WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.NewError(errors.ErrorTypeInternal, "failed to create temp config").WithCause(err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewError(errors.ErrorTypeInternal, "failed to set config permissions").WithCause(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewError(errors.ErrorTypeInternal, "failed to write config").WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewError(errors.ErrorTypeInternal, "failed to sync config").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.NewError(errors.ErrorTypeInternal, "failed to close config").WithCause(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.NewError(errors.ErrorTypeInternal, "failed to replace config").WithCause(err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultConfigDir  = "/etc/ferryx"
	DefaultConfigFile = "ferryx-hub.json"
)

// DefaultConfigPath is the well-known location of the config file.
var DefaultConfigPath = filepath.Join(DefaultConfigDir, DefaultConfigFile)

// Options are process-level settings read from the environment before the
// config file is opened.
type Options struct {
	ConfigPath string `env:"FERRYX_CONFIG"`
	LogLevel   string `env:"FERRYX_LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"FERRYX_LOG_FORMAT" envDefault:"text"`
}

// LoadOptions parses FERRYX_* environment variables.
func LoadOptions() (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("parse env: %w", err)
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigPath
	}
	return opts, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"ferryx/pkg/errors"
)

// Config is the persisted relay configuration. A loaded Config is treated as
// an immutable snapshot; changes are made by building a new value and
// swapping it into a Store.
type Config struct {
	Server      Server                   `json:"server" yaml:"server"`
	Security    Security                 `json:"security" yaml:"security"`
	Cors        Cors                     `json:"cors" yaml:"cors"`
	Services    map[string]*ServiceEntry `json:"services" yaml:"services"`
	Subscribers Subscribers              `json:"subscribers" yaml:"subscribers"`
	Broker      Broker                   `json:"broker" yaml:"broker"`
	Telemetry   Telemetry                `json:"telemetry" yaml:"telemetry"`
}

// Server configuration
type Server struct {
	Env         string `json:"env" yaml:"env"`
	Bind        string `json:"bind" yaml:"bind"`
	Port        int    `json:"port" yaml:"port"`
	ControlPort int    `json:"controlPort" yaml:"controlPort"`
}

// Security holds the token signing material.
type Security struct {
	// JWTKey is the base64-encoded HMAC signing secret.
	JWTKey string `json:"jwtKey" yaml:"jwtKey"`
	// TokenTTL in seconds; 0 issues tokens without expiry.
	TokenTTL int `json:"tokenTTL,omitempty" yaml:"tokenTTL,omitempty"`
}

// Cors is the origin policy for browser publishers and subscribers.
type Cors struct {
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

// ServiceEntry lists the subscriber groups that receive deploys of a service.
type ServiceEntry struct {
	Groups []string `json:"groups" yaml:"groups"`
}

// Subscribers tunes the real-time channel. Durations are in seconds.
type Subscribers struct {
	SendBuffer     int `json:"sendBuffer" yaml:"sendBuffer"`
	MaxConnections int `json:"maxConnections" yaml:"maxConnections"`
	PingPeriod     int `json:"pingPeriod" yaml:"pingPeriod"`
	PongWait       int `json:"pongWait" yaml:"pongWait"`
	WriteWait      int `json:"writeWait" yaml:"writeWait"`
}

// Broker selects how published events reach the fan-out stage.
type Broker struct {
	Type  string `json:"type" yaml:"type"`
	Redis Redis  `json:"redis" yaml:"redis"`
}

// Redis broker settings
type Redis struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
}

// Telemetry configuration
type Telemetry struct {
	Tracing Tracing `json:"tracing" yaml:"tracing"`
}

// Tracing configuration
type Tracing struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Endpoint   string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SampleRate float64 `json:"sampleRate" yaml:"sampleRate"`
}

const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Lookup finds a service entry by name, ignoring case.
func (c *Config) Lookup(name string) (string, *ServiceEntry, bool) {
	if entry, ok := c.Services[name]; ok {
		return name, entry, true
	}
	for key, entry := range c.Services {
		if strings.EqualFold(key, name) {
			return key, entry, true
		}
	}
	return "", nil, false
}

// TTL returns the configured token lifetime; zero means no expiry.
func (s Security) TTL() time.Duration {
	return time.Duration(s.TokenTTL) * time.Second
}

// Duration helpers for the subscriber channel.
func (s Subscribers) PingInterval() time.Duration { return time.Duration(s.PingPeriod) * time.Second }
func (s Subscribers) PongTimeout() time.Duration  { return time.Duration(s.PongWait) * time.Second }
func (s Subscribers) WriteTimeout() time.Duration { return time.Duration(s.WriteWait) * time.Second }

// AllowsAnyOrigin reports whether the origin policy is the wildcard.
func (c Cors) AllowsAnyOrigin() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy that shares no slices or maps with c. Nil and
// empty collections are preserved as they are.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Cors.AllowedOrigins != nil {
		out.Cors.AllowedOrigins = append([]string{}, c.Cors.AllowedOrigins...)
	}
	if c.Services != nil {
		out.Services = make(map[string]*ServiceEntry, len(c.Services))
		for name, entry := range c.Services {
			if entry == nil {
				out.Services[name] = nil
				continue
			}
			copied := &ServiceEntry{}
			if entry.Groups != nil {
				copied.Groups = append([]string{}, entry.Groups...)
			}
			out.Services[name] = copied
		}
	}
	return &out
}

// Normalize fills gaps left by a hand-edited file. It never fails and
// applying it twice yields the same result as applying it once.
func Normalize(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Bind) == "" {
		cfg.Server.Bind = DefaultBind
	}

	if cfg.Cors.AllowedOrigins == nil {
		cfg.Cors.AllowedOrigins = []string{"*"}
	}

	if cfg.Services == nil {
		cfg.Services = make(map[string]*ServiceEntry)
	}
	for name, entry := range cfg.Services {
		if entry == nil {
			entry = &ServiceEntry{}
			cfg.Services[name] = entry
		}
		if entry.Groups == nil {
			entry.Groups = []string{}
		}
	}

	if cfg.Subscribers.SendBuffer <= 0 {
		cfg.Subscribers.SendBuffer = DefaultSendBuffer
	}
	if cfg.Subscribers.MaxConnections <= 0 {
		cfg.Subscribers.MaxConnections = DefaultMaxConnections
	}
	if cfg.Subscribers.PingPeriod <= 0 {
		cfg.Subscribers.PingPeriod = DefaultPingPeriod
	}
	if cfg.Subscribers.PongWait <= 0 {
		cfg.Subscribers.PongWait = DefaultPongWait
	}
	if cfg.Subscribers.WriteWait <= 0 {
		cfg.Subscribers.WriteWait = DefaultWriteWait
	}

	if strings.TrimSpace(cfg.Broker.Type) == "" {
		cfg.Broker.Type = BrokerMemory
	}
	if cfg.Broker.Redis.Channel == "" {
		cfg.Broker.Redis.Channel = DefaultRedisChannel
	}
}

// Validate enforces the invariants a running relay depends on.
func Validate(cfg *Config, path string) error {
	if err := validate(cfg); err != nil {
		return errors.ConfigInvalid(path, err.Error())
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1..65535")
	}
	if cfg.Server.ControlPort < 1 || cfg.Server.ControlPort > 65535 {
		return fmt.Errorf("server.controlPort must be 1..65535")
	}
	if cfg.Server.Port == cfg.Server.ControlPort {
		return fmt.Errorf("server.port and server.controlPort must be different")
	}
	if cfg.Security.TokenTTL < 0 {
		return fmt.Errorf("security.tokenTTL must not be negative")
	}

	seen := make(map[string]string, len(cfg.Services))
	for name, entry := range cfg.Services {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("services: empty service name")
		}
		folded := strings.ToLower(name)
		if other, ok := seen[folded]; ok {
			return fmt.Errorf("services: %q and %q differ only by case", other, name)
		}
		seen[folded] = name
		if entry == nil {
			continue
		}
		for _, g := range entry.Groups {
			if strings.TrimSpace(g) == "" {
				return fmt.Errorf("services.%s: empty group name", name)
			}
		}
	}

	switch cfg.Broker.Type {
	case BrokerMemory:
	case BrokerRedis:
		if cfg.Broker.Redis.Addr == "" {
			return fmt.Errorf("broker.redis.addr is required for redis broker")
		}
	default:
		return fmt.Errorf("unknown broker type: %s", cfg.Broker.Type)
	}

	return nil
}

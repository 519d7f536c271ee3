package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	DefaultEnv            = "hub"
	DefaultBind           = "0.0.0.0"
	DefaultPort           = 18080
	DefaultControlPort    = 18081
	DefaultSendBuffer     = 16
	DefaultMaxConnections = 1024
	DefaultPingPeriod     = 30
	DefaultPongWait       = 60
	DefaultWriteWait      = 10
	DefaultRedisChannel   = "ferryx:deploys"

	// secretSize is 256 bits.
	secretSize = 32
)

// Default builds a fresh configuration with a newly generated signing secret.
func Default() (*Config, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: Server{
			Env:         DefaultEnv,
			Bind:        DefaultBind,
			Port:        DefaultPort,
			ControlPort: DefaultControlPort,
		},
		Security: Security{
			JWTKey: secret,
		},
		Cors: Cors{
			AllowedOrigins: []string{"*"},
		},
		Services: map[string]*ServiceEntry{
			"my-app": {Groups: []string{"pre-prod", "prod"}},
		},
		Broker: Broker{
			Type: BrokerMemory,
		},
	}
	Normalize(cfg)
	return cfg, nil
}

// GenerateSecret returns 256 bits from crypto/rand, base64-encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, secretSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

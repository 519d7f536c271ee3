package http

import (
	"time"

	"ferryx/internal/config"
	"ferryx/internal/middleware/cors"
)

// Config holds public server configuration
type Config struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
	MaxRequestSize    int64 // Maximum publish body size in bytes (0 = no limit)

	// Subscribers tunes the WebSocket channel. Applied at boot.
	Subscribers config.Subscribers
	// Origins returns the live origin allow-list
	Origins cors.OriginSource
}

// DefaultMaxRequestSize bounds publish bodies
const DefaultMaxRequestSize = 64 << 10

// FromConfig derives the server configuration from a config snapshot.
// Origins follow the store so reloads apply to new requests.
func FromConfig(cfg *config.Config, origins cors.OriginSource) Config {
	return Config{
		Host:              cfg.Server.Bind,
		Port:              cfg.Server.Port,
		ReadHeaderTimeout: 10 * time.Second,
		MaxRequestSize:    DefaultMaxRequestSize,
		Subscribers:       cfg.Subscribers,
		Origins:           origins,
	}
}

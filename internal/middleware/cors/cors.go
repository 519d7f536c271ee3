package cors

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// OriginSource returns the allowed origins of the live configuration.
// ["*"] allows every origin.
type OriginSource func() []string

// Config holds CORS configuration
type Config struct {
	// AllowedMethods is a list of allowed HTTP methods
	AllowedMethods []string
	// AllowedHeaders is a list of allowed headers
	AllowedHeaders []string
	// MaxAge indicates how long (in seconds) the results of a preflight request can be cached
	MaxAge int
}

// DefaultConfig returns the relay's CORS settings
func DefaultConfig() Config {
	return Config{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}
}

// CORS applies the configured origin policy to HTTP requests and WebSocket
// handshakes. Origins are read on every request so reloaded configuration
// applies without restart.
type CORS struct {
	config         Config
	origins        OriginSource
	allowedHeaders map[string]bool
}

// New creates a new CORS middleware
func New(config Config, origins OriginSource) *CORS {
	if len(config.AllowedMethods) == 0 {
		config.AllowedMethods = DefaultConfig().AllowedMethods
	}

	allowedHeaders := make(map[string]bool)
	for _, header := range config.AllowedHeaders {
		allowedHeaders[strings.ToLower(header)] = true
	}

	return &CORS{
		config:         config,
		origins:        origins,
		allowedHeaders: allowedHeaders,
	}
}

// Handler returns an HTTP handler that applies CORS headers
func (c *CORS) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			c.handlePreflight(w, r, origin)
			return
		}

		if c.IsOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CORS) handlePreflight(w http.ResponseWriter, r *http.Request, origin string) {
	headers := w.Header()

	if !c.IsOriginAllowed(origin) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	headers.Set("Access-Control-Allow-Origin", origin)
	headers.Add("Vary", "Origin")

	if c.isMethodAllowed(r.Header.Get("Access-Control-Request-Method")) {
		headers.Set("Access-Control-Allow-Methods", strings.Join(c.config.AllowedMethods, ", "))
	}

	if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" && c.areHeadersAllowed(reqHeaders) {
		headers.Set("Access-Control-Allow-Headers", reqHeaders)
	}

	if c.config.MaxAge > 0 {
		headers.Set("Access-Control-Max-Age", strconv.Itoa(c.config.MaxAge))
	}
	w.WriteHeader(http.StatusNoContent)
}

// IsOriginAllowed checks origin against the live policy
func (c *CORS) IsOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range c.origins() {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// CheckOrigin is the WebSocket upgrader hook. Requests without an Origin
// header (non-browser clients) and same-origin requests are always allowed.
func (c *CORS) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if sameOrigin(r, origin) {
		return true
	}
	if c.IsOriginAllowed(origin) {
		return true
	}

	// allow-list entries may carry the default port explicitly
	u, err := url.Parse(origin)
	if err != nil || u.Port() != "" {
		return false
	}
	return c.IsOriginAllowed(fmt.Sprintf("%s://%s:%s", u.Scheme, u.Hostname(), defaultPort(u.Scheme)))
}

func sameOrigin(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originPort := u.Port()
	if originPort == "" {
		originPort = defaultPort(u.Scheme)
	}

	reqHost := r.Host
	if reqHost == "" {
		return false
	}
	host, port, err := net.SplitHostPort(reqHost)
	if err != nil {
		host = reqHost
		if r.TLS != nil {
			port = "443"
		} else {
			port = "80"
		}
	}
	return strings.EqualFold(u.Hostname(), host) && originPort == port
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https", "wss":
		return "443"
	default:
		return "80"
	}
}

func (c *CORS) isMethodAllowed(method string) bool {
	for _, allowed := range c.config.AllowedMethods {
		if strings.EqualFold(allowed, method) {
			return true
		}
	}
	return false
}

func (c *CORS) areHeadersAllowed(headers string) bool {
	if c.allowedHeaders["*"] {
		return true
	}
	for _, header := range strings.Split(headers, ",") {
		if !c.allowedHeaders[strings.TrimSpace(strings.ToLower(header))] {
			return false
		}
	}
	return true
}

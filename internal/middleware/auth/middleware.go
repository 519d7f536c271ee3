package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ferryx/pkg/errors"
)

// Middleware rejects requests that do not carry credentials accepted by the
// provider. Authenticated requests carry AuthInfo in their context.
type Middleware struct {
	provider   Provider
	extractors []Extractor
	logger     *slog.Logger
	onFailure  func(r *http.Request, err error)
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(provider Provider, logger *slog.Logger, extractors ...Extractor) *Middleware {
	return &Middleware{
		provider:   provider,
		extractors: extractors,
		logger:     logger.With("component", "auth"),
	}
}

// OnFailure registers a hook called for every rejected request
func (m *Middleware) OnFailure(fn func(r *http.Request, err error)) *Middleware {
	m.onFailure = fn
	return m
}

// Authenticate extracts and validates credentials from r
func (m *Middleware) Authenticate(r *http.Request) (*AuthInfo, error) {
	var lastErr error
	for _, extractor := range m.extractors {
		creds, err := extractor.Extract(r)
		if err != nil {
			lastErr = err
			continue
		}
		return m.provider.Authenticate(r.Context(), creds)
	}

	err := errors.NewError(errors.ErrorTypeUnauthorized, "authentication required")
	if lastErr != nil {
		err = err.WithCause(lastErr)
	}
	return nil, err
}

// Handler wraps next with authentication
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := m.Authenticate(r)
		if err != nil {
			m.logger.Warn("Authentication failed",
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"error", err,
			)
			if m.onFailure != nil {
				m.onFailure(r, err)
			}
			writeUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAuthInfo(r.Context(), info)))
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="ferryx"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}

// Context keys
type contextKey string

const authInfoKey contextKey = "authInfo"

// WithAuthInfo stores auth info in context
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}

// GetAuthInfo retrieves auth info from context
func GetAuthInfo(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey).(*AuthInfo)
	return info, ok
}

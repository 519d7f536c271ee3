package jwt

import (
	"net/http"
	"strings"

	"ferryx/internal/middleware/auth"
	"ferryx/pkg/errors"
)

// Extractor extracts JWT tokens from requests
type Extractor struct {
	// HeaderName is the header to extract token from (default: Authorization)
	HeaderName string
	// Scheme is the auth scheme (default: Bearer)
	Scheme string
	// QueryParam, when set, is checked after the header. Browsers cannot
	// set headers on a WebSocket handshake.
	QueryParam string
}

// NewExtractor creates a header-only extractor
func NewExtractor() *Extractor {
	return &Extractor{
		HeaderName: "Authorization",
		Scheme:     "Bearer",
	}
}

// NewQueryExtractor creates an extractor that also accepts ?access_token=
func NewQueryExtractor() *Extractor {
	e := NewExtractor()
	e.QueryParam = "access_token"
	return e
}

// Extract extracts bearer credentials from r
func (e *Extractor) Extract(r *http.Request) (auth.Credentials, error) {
	for _, header := range r.Header.Values(e.HeaderName) {
		if token := e.extractFromAuthHeader(header); token != "" {
			return &auth.BearerCredentials{Token: token, Source: "header"}, nil
		}
	}

	if e.QueryParam != "" {
		if token := strings.TrimSpace(r.URL.Query().Get(e.QueryParam)); token != "" {
			return &auth.BearerCredentials{Token: token, Source: "query"}, nil
		}
	}

	return nil, errors.NewError(
		errors.ErrorTypeUnauthorized,
		"no authentication token found",
	)
}

// extractFromAuthHeader extracts token from Authorization header
func (e *Extractor) extractFromAuthHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}

	if !strings.EqualFold(parts[0], e.Scheme) {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

var _ auth.Extractor = (*Extractor)(nil)

package auth

import (
	"context"
	"net/http"
	"time"
)

// Provider defines the authentication provider interface
type Provider interface {
	// Name returns the provider name
	Name() string
	// Authenticate validates credentials and returns auth info
	Authenticate(ctx context.Context, credentials Credentials) (*AuthInfo, error)
}

// Credentials represents authentication credentials
type Credentials interface {
	// Type returns the credential type
	Type() string
}

// BearerCredentials represents bearer token credentials
type BearerCredentials struct {
	Token string
	// Source records where the token was found (header, query)
	Source string
}

// Type returns the credential type for bearer tokens
func (c *BearerCredentials) Type() string {
	return "bearer"
}

// AuthInfo contains authentication information
type AuthInfo struct {
	// Subject is the sub claim; may be empty, the relay does not require one
	Subject string
	// Issuer is the iss claim
	Issuer string
	// IssuedAt is when the token was minted, if recorded
	IssuedAt *time.Time
	// ExpiresAt is when the token expires, nil for non-expiring tokens
	ExpiresAt *time.Time
	// Token is the raw token
	Token string
}

// Extractor extracts credentials from a request
type Extractor interface {
	Extract(r *http.Request) (Credentials, error)
}

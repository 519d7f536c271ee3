package jwt

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ferryx/internal/middleware/auth"
	"ferryx/pkg/errors"
)

// Issuer is the iss claim stamped on tokens minted by the relay
const Issuer = "ferryx"

// Claims is the token claim set. No claim is mandatory: a token is valid
// when it is signed with the current secret.
type Claims struct {
	jwt.RegisteredClaims
}

// Issue mints an HS256 token signed with secret. A zero ttl produces a token
// without exp.
func Issue(secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.NewError(errors.ErrorTypeInternal, "signing secret is empty")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey(secret))
	if err != nil {
		return "", errors.NewError(errors.ErrorTypeInternal, "failed to sign token").WithCause(err)
	}
	return signed, nil
}

// Validate checks that token was signed with secret. Issuer and audience are
// never checked. Time-based claims (exp, nbf, iat) are only checked when
// checkExpiry is set; otherwise the signature alone decides.
func Validate(token, secret string, checkExpiry bool) (*Claims, error) {
	if secret == "" {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "no signing secret loaded")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return signingKey(secret), nil
	}, opts...)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "invalid token").WithCause(err)
	}
	if !parsed.Valid {
		return nil, errors.NewError(errors.ErrorTypeUnauthorized, "token validation failed")
	}
	return claims, nil
}

// signingKey uses the secret text itself as the HMAC key, so tokens minted
// by external tooling from the config value verify here unchanged.
func signingKey(secret string) []byte {
	return []byte(secret)
}

// SecretFunc returns the secret of the live configuration snapshot
type SecretFunc func() string

// ExpiryFunc reports whether the live configuration enforces token expiry
type ExpiryFunc func() bool

// Provider authenticates bearer tokens against the current secret
type Provider struct {
	secret      SecretFunc
	checkExpiry ExpiryFunc
}

// NewProvider creates a JWT provider. secret is consulted on every call so a
// reloaded configuration takes effect immediately. Expiry is not checked
// unless WithExpiry is set.
func NewProvider(secret SecretFunc) *Provider {
	return &Provider{
		secret:      secret,
		checkExpiry: func() bool { return false },
	}
}

// WithExpiry makes the provider check exp whenever enforce returns true.
func (p *Provider) WithExpiry(enforce ExpiryFunc) *Provider {
	if enforce != nil {
		p.checkExpiry = enforce
	}
	return p
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "jwt"
}

// Authenticate validates a bearer token
func (p *Provider) Authenticate(ctx context.Context, credentials auth.Credentials) (*auth.AuthInfo, error) {
	bearer, ok := credentials.(*auth.BearerCredentials)
	if !ok {
		return nil, errors.NewError(
			errors.ErrorTypeUnauthorized,
			fmt.Sprintf("unsupported credential type %q", credentials.Type()),
		)
	}

	checkExpiry := p.checkExpiry()
	claims, err := Validate(bearer.Token, p.secret(), checkExpiry)
	if err != nil {
		return nil, err
	}

	info := &auth.AuthInfo{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
		Token:   bearer.Token,
	}
	if claims.IssuedAt != nil {
		t := claims.IssuedAt.Time
		info.IssuedAt = &t
	}
	// only an enforced exp may end a subscriber connection
	if checkExpiry && claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		info.ExpiresAt = &t
	}
	return info, nil
}

var _ auth.Provider = (*Provider)(nil)

package jwt

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ferryx/internal/middleware/auth"
	"ferryx/pkg/errors"
)

const testSecret = "dGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQtdGVzdC0xMjM="

func TestIssueAndValidate(t *testing.T) {
	token, err := Issue(testSecret, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := Validate(token, testSecret, false)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.Issuer != Issuer {
		t.Errorf("iss = %q, want %q", claims.Issuer, Issuer)
	}
	if claims.IssuedAt == nil {
		t.Error("iat should be set")
	}
	if claims.ExpiresAt != nil {
		t.Error("zero ttl should not set exp")
	}
}

func TestIssue_WithTTL(t *testing.T) {
	token, err := Issue(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Validate(token, testSecret, true)
	if err != nil {
		t.Fatal(err)
	}
	if claims.ExpiresAt == nil {
		t.Fatal("exp should be set")
	}
	if d := time.Until(claims.ExpiresAt.Time); d < 59*time.Minute || d > time.Hour+time.Second {
		t.Errorf("exp is %v from now", d)
	}
}

func TestIssue_EmptySecret(t *testing.T) {
	if _, err := Issue("", 0); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestValidate(t *testing.T) {
	sign := func(claims jwt.Claims, method jwt.SigningMethod, key interface{}) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	expired := func() string {
		return sign(jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()},
			jwt.SigningMethodHS256, []byte(testSecret))
	}

	tests := []struct {
		name        string
		token       func() string
		secret      string
		checkExpiry bool
		wantErr     bool
	}{
		{
			name: "no claims at all",
			token: func() string {
				return sign(jwt.MapClaims{}, jwt.SigningMethodHS256, []byte(testSecret))
			},
			secret: testSecret,
		},
		{
			name: "foreign issuer and audience accepted",
			token: func() string {
				return sign(jwt.MapClaims{"iss": "ci", "aud": "anything", "sub": "runner"},
					jwt.SigningMethodHS256, []byte(testSecret))
			},
			secret: testSecret,
		},
		{
			name:   "expired accepted without expiry check",
			token:  expired,
			secret: testSecret,
		},
		{
			name:        "expired rejected with expiry check",
			token:       expired,
			secret:      testSecret,
			checkExpiry: true,
			wantErr:     true,
		},
		{
			name: "unexpired accepted with expiry check",
			token: func() string {
				return sign(jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()},
					jwt.SigningMethodHS256, []byte(testSecret))
			},
			secret:      testSecret,
			checkExpiry: true,
		},
		{
			name: "wrong secret",
			token: func() string {
				return sign(jwt.MapClaims{}, jwt.SigningMethodHS256, []byte("other"))
			},
			secret:  testSecret,
			wantErr: true,
		},
		{
			name: "HS512 rejected",
			token: func() string {
				return sign(jwt.MapClaims{}, jwt.SigningMethodHS512, []byte(testSecret))
			},
			secret:  testSecret,
			wantErr: true,
		},
		{
			name: "unsigned token rejected",
			token: func() string {
				return sign(jwt.MapClaims{}, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)
			},
			secret:  testSecret,
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   func() string { return "not.a.token" },
			secret:  testSecret,
			wantErr: true,
		},
		{
			name: "no secret loaded",
			token: func() string {
				return sign(jwt.MapClaims{}, jwt.SigningMethodHS256, []byte(testSecret))
			},
			secret:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.token(), tt.secret, tt.checkExpiry)
			if tt.wantErr {
				if !stderrors.Is(err, errors.ErrUnauthorized) {
					t.Errorf("expected unauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestProvider_FollowsSecretRotation(t *testing.T) {
	secret := testSecret
	provider := NewProvider(func() string { return secret })

	token, err := Issue(testSecret, 0)
	if err != nil {
		t.Fatal(err)
	}

	info, err := provider.Authenticate(context.Background(), &auth.BearerCredentials{Token: token})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if info.Issuer != Issuer || info.Token != token || info.ExpiresAt != nil {
		t.Errorf("unexpected auth info: %+v", info)
	}

	secret = "rotated"
	if _, err := provider.Authenticate(context.Background(), &auth.BearerCredentials{Token: token}); err == nil {
		t.Error("token signed with the old secret should be rejected after rotation")
	}
}

func TestProvider_ExpiryPolicy(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	creds := &auth.BearerCredentials{Token: expired}

	info, err := NewProvider(func() string { return testSecret }).Authenticate(context.Background(), creds)
	if err != nil {
		t.Fatalf("default provider should ignore exp: %v", err)
	}
	if info.ExpiresAt != nil {
		t.Error("unenforced exp should not be reported as the expiry")
	}

	enforce := true
	provider := NewProvider(func() string { return testSecret }).WithExpiry(func() bool { return enforce })
	if _, err := provider.Authenticate(context.Background(), creds); !stderrors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("expected unauthorized with expiry enforced, got %v", err)
	}

	enforce = false
	if _, err := provider.Authenticate(context.Background(), creds); err != nil {
		t.Errorf("expiry policy should follow the live setting: %v", err)
	}

	live, err := Issue(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	enforce = true
	info, err = provider.Authenticate(context.Background(), &auth.BearerCredentials{Token: live})
	if err != nil {
		t.Fatal(err)
	}
	if info.ExpiresAt == nil {
		t.Error("enforced exp should be reported as the expiry")
	}
}

type otherCredentials struct{}

func (otherCredentials) Type() string { return "basic" }

func TestProvider_RejectsOtherCredentials(t *testing.T) {
	provider := NewProvider(func() string { return testSecret })
	_, err := provider.Authenticate(context.Background(), otherCredentials{})
	if !stderrors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

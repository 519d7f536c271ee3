// Package requestid provides request and connection ID utilities.
// Request IDs carry a timestamp and random component; connection IDs are UUIDs.
package requestid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Header is the HTTP header used to propagate request IDs
const Header = "X-Request-ID"

// maxInboundLength caps caller-supplied IDs
const maxInboundLength = 128

// counter is used as fallback when random generation fails
var counter atomic.Uint64

type contextKey struct{}

// GenerateRequestID generates a unique request ID with format: timestamp-randomhex
// Example: 1737039600123-a2b3c4d5
func GenerateRequestID() string {
	timestamp := time.Now().UnixMilli()

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("%d-%d", timestamp, counter.Add(1))
	}

	return fmt.Sprintf("%d-%s", timestamp, hex.EncodeToString(randomBytes))
}

// NewConnectionID returns an identifier for a subscriber connection
func NewConnectionID() string {
	return uuid.NewString()
}

// FromRequest returns the caller's X-Request-ID when it is usable,
// otherwise a freshly generated one.
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(Header); id != "" && len(id) <= maxInboundLength && printable(id) {
		return id
	}
	return GenerateRequestID()
}

// WithID stores id in ctx
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the request ID stored in ctx, if any
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

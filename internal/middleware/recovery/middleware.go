package recovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Config holds recovery middleware configuration
type Config struct {
	// StackTrace enables stack trace logging
	StackTrace bool
	// PanicHandler is called when a panic occurs (optional)
	PanicHandler func(r *http.Request, recovered interface{}, stack []byte)
}

// Middleware creates panic recovery middleware. A panicking handler yields a
// 500 JSON response; the server keeps serving other requests.
func Middleware(config Config, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := debug.Stack()
				logger.Error("panic recovered",
					"panic", fmt.Sprintf("%v", rec),
					"path", r.URL.Path,
					"method", r.Method,
				)
				if config.StackTrace {
					logger.Error("stack trace", "stack", string(stack))
				}
				if config.PanicHandler != nil {
					config.PanicHandler(r, rec, stack)
				}

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Default creates recovery middleware with stack traces enabled
func Default(logger *slog.Logger) func(http.Handler) http.Handler {
	return Middleware(Config{StackTrace: true}, logger)
}

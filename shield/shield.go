// Package shield provides the HTTP middleware stack of the extraction API:
// security headers, body limits, request tracing, per-IP rate limiting and
// HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.StackConfig{MaxBody: 100 << 20}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// StackConfig configures APIStack.
type StackConfig struct {
	// MaxBody caps request bodies. 0 disables the limit.
	MaxBody int64
	// RateLimit is the number of requests one client IP may make per
	// RateWindow on non-excluded paths. 0 disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
	// RateExclude lists path prefixes that are never rate limited.
	RateExclude []string
	Logger      *slog.Logger
	// Done stops the rate limiter's bucket GC when closed.
	Done <-chan struct{}
}

// APIStack returns the standard middleware stack for a JSON API, ordered
// HeadToGet, SecurityHeaders, TraceID, RateLimiter, MaxBody.
func APIStack(cfg StackConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		TraceID(logger),
	}
	if cfg.RateLimit > 0 {
		rl := NewRateLimiter(cfg.RateLimit, cfg.RateWindow, cfg.RateExclude...)
		if cfg.Done != nil {
			rl.StartGC(cfg.Done)
		}
		stack = append(stack, rl.Middleware)
	}
	if cfg.MaxBody > 0 {
		stack = append(stack, MaxBody(cfg.MaxBody))
	}
	return stack
}

// HeadToGet serves HEAD requests with the GET route; net/http drops the
// body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

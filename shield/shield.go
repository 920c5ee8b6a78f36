// Package shield provides the HTTP middleware guarding the pagewatch
// operator API: security headers, body limits, HEAD handling and per-client
// rate limiting of mutating calls.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"
	"time"
)

// DefaultMaxBody bounds request bodies of the operator API.
const DefaultMaxBody = 64 * 1024

// DefaultStack returns the standard middleware stack, ordered:
// HeadToGet → SecurityHeaders → MaxBody → RateLimiter. Paths under the
// exclude prefixes skip rate limiting.
func DefaultStack(exclude ...string) []func(http.Handler) http.Handler {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 30, Window: time.Minute, Exclude: exclude})
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
		rl.Middleware,
	}
}

// MaxBody returns middleware that limits the request body size.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HeadToGet serves HEAD requests with the GET routes; net/http drops the
// body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

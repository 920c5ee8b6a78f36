package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig is a fixed-window limit applied per client and endpoint.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	// Methods lists the limited methods. Default: POST, PUT, PATCH, DELETE.
	Methods []string
	// Exclude lists path prefixes that are never limited.
	Exclude []string
	// Now replaces time.Now in tests.
	Now func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter limits mutating calls per client IP and endpoint. GET and
// HEAD requests are never limited so status polling keeps working.
type RateLimiter struct {
	cfg     RateLimitConfig
	methods map[string]bool

	mu      sync.Mutex
	buckets map[string]*bucket
	lastGC  time.Time
}

// NewRateLimiter returns a limiter. MaxRequests <= 0 disables limiting.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rl := &RateLimiter{cfg: cfg, methods: map[string]bool{}, buckets: map[string]*bucket{}}
	for _, m := range cfg.Methods {
		rl.methods[m] = true
	}
	return rl
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	if rl.cfg.MaxRequests <= 0 {
		return true
	}
	now := rl.cfg.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastGC) > 5*rl.cfg.Window {
		for k, b := range rl.buckets {
			if now.After(b.resetAt) {
				delete(rl.buckets, k)
			}
		}
		rl.lastGC = now
	}

	key := ip + " " + endpoint
	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rl.cfg.Window)}
		return true
	}
	b.count++
	return b.count <= rl.cfg.MaxRequests
}

// Middleware rejects requests over the limit with a 429 JSON response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.methods[r.Method] || rl.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)
		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("shield: rate limit exceeded", "ip", ip, "endpoint", endpoint)
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.cfg.Window.Seconds())))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

func (rl *RateLimiter) excluded(path string) bool {
	for _, prefix := range rl.cfg.Exclude {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

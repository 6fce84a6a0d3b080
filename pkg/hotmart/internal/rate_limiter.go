package internal

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter caps webhook requests per client IP over a sliding window.
// Webhook endpoints are unauthenticated until the token check runs, so the
// limiter sits in front of everything else.
type RateLimiter struct {
	mu      sync.Mutex
	seen    map[string]*window
	limit   int
	period  time.Duration
	calls   int
	sweepAt int
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per period per IP
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		seen:    make(map[string]*window),
		limit:   limit,
		period:  period,
		sweepAt: 128,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Sweep stale windows inline rather than from a background goroutine,
	// so an idle limiter holds no resources.
	rl.calls++
	if rl.calls >= rl.sweepAt || len(rl.seen) > 2*rl.sweepAt {
		for ip, w := range rl.seen {
			if now.After(w.resetAt) {
				delete(rl.seen, ip)
			}
		}
		rl.calls = 0
	}

	w, ok := rl.seen[ip]
	if !ok || now.After(w.resetAt) {
		rl.seen[ip] = &window{count: 1, resetAt: now.Add(rl.period)}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Middleware wraps an HTTP handler with per-IP rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(ClientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client IP, preferring X-Forwarded-For when a proxy
// or load balancer sits in front of the service.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	return r.RemoteAddr
}

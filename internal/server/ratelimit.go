package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ssd-technologies/keyledger/internal/ratelimit"
)

// rateLimiter keeps one fixed-window limiter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*ratelimit.Limiter
	rate     int           // max requests per window
	window   time.Duration // window duration
}

// newRateLimiter creates a rate limiter that allows rate requests per window.
// Stale entries are removed by the cleanup worker.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*ratelimit.Limiter),
		rate:     rate,
		window:   window,
	}
}

// allow returns true if the IP has not exceeded its rate limit.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	l, exists := rl.visitors[ip]
	if !exists {
		l = ratelimit.New(rl.rate, rl.window)
		rl.visitors[ip] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// cleanup removes visitor entries whose window has expired and returns how
// many were removed.
func (rl *rateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, l := range rl.visitors {
		if l.Expired() {
			delete(rl.visitors, ip)
			n++
		}
	}
	return n
}

// getIP extracts the client IP from a request. X-Forwarded-For is honoured
// only when trustProxy is set, since clients can forge it.
func getIP(r *http.Request, trustProxy bool) string {
	if xff := r.Header.Get("X-Forwarded-For"); trustProxy && xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
